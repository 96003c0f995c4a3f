// Package memory is an in-process credential store. It backs tests and
// single-node deployments that do not need persistence.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/stampauth/credential"
)

type key struct {
	tenant string
	id     string
}

// Store keeps records in maps guarded by one mutex, which makes every
// conditional update atomic.
type Store struct {
	mu      sync.Mutex
	byID    map[key]*credential.Record
	byEmail map[key]string
	tenants map[string]string
	now     func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		byID:    make(map[key]*credential.Record),
		byEmail: make(map[key]string),
		tenants: make(map[string]string),
		now:     time.Now,
	}
}

// WithClock overrides the clock used for UpdatedAt.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Store) GetByEmail(_ context.Context, tenantID, email string) (*credential.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[key{tenantID, credential.NormalizeEmail(email)}]
	if !ok {
		return nil, credential.ErrRecordNotFound
	}
	return s.byID[key{tenantID, id}].Clone(), nil
}

func (s *Store) GetByID(_ context.Context, tenantID, id string) (*credential.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[key{tenantID, id}]
	if !ok {
		return nil, credential.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) Update(_ context.Context, tenantID, id string, patch credential.Patch) (*credential.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[key{tenantID, id}]
	if !ok {
		return nil, credential.ErrRecordNotFound
	}
	if err := patch.Check(rec); err != nil {
		return nil, err
	}

	oldEmail := rec.Email
	if patch.Email != nil {
		email := credential.NormalizeEmail(*patch.Email)
		if owner, taken := s.byEmail[key{tenantID, email}]; taken && owner != id {
			return nil, credential.ErrDuplicateEmail
		}
	}

	patch.Apply(rec, s.now())
	if rec.Email != oldEmail {
		delete(s.byEmail, key{tenantID, oldEmail})
		s.byEmail[key{tenantID, rec.Email}] = id
	}
	return rec.Clone(), nil
}

func (s *Store) Create(_ context.Context, tenantID string, rec credential.Record) (*credential.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.TenantID = tenantID
	rec.Email = credential.NormalizeEmail(rec.Email)
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if _, taken := s.byEmail[key{tenantID, rec.Email}]; taken {
		return nil, credential.ErrDuplicateEmail
	}
	if _, taken := s.byID[key{tenantID, rec.ID}]; taken {
		return nil, credential.ErrDuplicateEmail
	}
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	stored := rec.Clone()
	s.byID[key{tenantID, rec.ID}] = stored
	s.byEmail[key{tenantID, rec.Email}] = rec.ID
	return stored.Clone(), nil
}

func (s *Store) ResetFailedAttempts(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[key{tenantID, id}]
	if !ok {
		return credential.ErrRecordNotFound
	}
	rec.FailedLoginAttempts = 0
	rec.LockoutEndAt = nil
	return nil
}

// RecordFailedAttempt increments the failed-login counter.
func (s *Store) RecordFailedAttempt(_ context.Context, tenantID, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[key{tenantID, id}]
	if !ok {
		return 0, credential.ErrRecordNotFound
	}
	rec.FailedLoginAttempts++
	return rec.FailedLoginAttempts, nil
}

// CreateTenant allocates a tenant ID for name. Names are not unique.
func (s *Store) CreateTenant(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.tenants[id] = strings.TrimSpace(name)
	return id, nil
}

// TenantName returns the name a tenant was created with.
func (s *Store) TenantName(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, ok := s.tenants[id]
	return name, ok
}

// Put stores rec as-is, replacing any record with the same ID. It is meant
// for seeding fixtures.
func (s *Store) Put(rec credential.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Email = credential.NormalizeEmail(rec.Email)
	if old, ok := s.byID[key{rec.TenantID, rec.ID}]; ok {
		delete(s.byEmail, key{rec.TenantID, old.Email})
	}
	s.byID[key{rec.TenantID, rec.ID}] = rec.Clone()
	s.byEmail[key{rec.TenantID, rec.Email}] = rec.ID
}

var (
	_ credential.Store                 = (*Store)(nil)
	_ credential.FailedAttemptRecorder = (*Store)(nil)
	_ credential.TenantProvisioner     = (*Store)(nil)
)
