// Package redisstore persists credential records in Redis. Conditional
// updates use WATCH/MULTI so a stamp check and the write are one atomic step.
//
// Layout:
//
//	{prefix}:rec:{tenant}:{id}       JSON-encoded credential.Record
//	{prefix}:email:{tenant}:{email}  record ID
//	{prefix}:tenants                 hash of tenant ID to name
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/stampauth/credential"
)

const maxRetries = 4

var (
	// ErrRedisUnavailable wraps transport and server failures.
	ErrRedisUnavailable = errors.New("credential redis unavailable")
	// ErrContention is returned when optimistic transactions kept failing.
	ErrContention = errors.New("credential record under contention")
	// ErrCorruptRecord is returned when a stored record cannot be decoded.
	ErrCorruptRecord = errors.New("credential record corrupt")
)

// Store implements credential.Store on a redis.UniversalClient.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// New returns a Store. An empty prefix selects "sa".
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "sa"
	}
	return &Store{redis: client, prefix: prefix, now: time.Now}
}

func normalizeTenantID(tenantID string) string {
	if tenantID == "" {
		return "0"
	}
	return tenantID
}

func (s *Store) recKey(tenantID, id string) string {
	return s.prefix + ":rec:" + normalizeTenantID(tenantID) + ":" + id
}

func (s *Store) emailKey(tenantID, email string) string {
	return s.prefix + ":email:" + normalizeTenantID(tenantID) + ":" + credential.NormalizeEmail(email)
}

func (s *Store) tenantsKey() string {
	return s.prefix + ":tenants"
}

func (s *Store) GetByEmail(ctx context.Context, tenantID, email string) (*credential.Record, error) {
	id, err := s.redis.Get(ctx, s.emailKey(tenantID, email)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, credential.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return s.GetByID(ctx, tenantID, id)
}

func (s *Store) GetByID(ctx context.Context, tenantID, id string) (*credential.Record, error) {
	data, err := s.redis.Get(ctx, s.recKey(tenantID, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, credential.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return decodeRecord(data)
}

func (s *Store) Update(ctx context.Context, tenantID, id string, patch credential.Patch) (*credential.Record, error) {
	key := s.recKey(tenantID, id)
	watched := []string{key}
	var newEmailKey string
	if patch.Email != nil {
		newEmailKey = s.emailKey(tenantID, *patch.Email)
		watched = append(watched, newEmailKey)
	}

	var updated *credential.Record
	err := s.retry(ctx, func(tx *redis.Tx) error {
		rec, err := s.read(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := patch.Check(rec); err != nil {
			return err
		}

		oldEmailKey := s.emailKey(tenantID, rec.Email)
		if newEmailKey != "" && newEmailKey != oldEmailKey {
			owner, err := tx.Get(ctx, newEmailKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil && owner != id {
				return credential.ErrDuplicateEmail
			}
		}

		patch.Apply(rec, s.now())
		encoded, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			if newEmailKey != "" && newEmailKey != oldEmailKey {
				pipe.Del(ctx, oldEmailKey)
				pipe.Set(ctx, newEmailKey, id, 0)
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = rec
		return nil
	}, watched...)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) Create(ctx context.Context, tenantID string, rec credential.Record) (*credential.Record, error) {
	rec.TenantID = tenantID
	rec.Email = credential.NormalizeEmail(rec.Email)
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	encoded, err := json.Marshal(&rec)
	if err != nil {
		return nil, err
	}
	key := s.recKey(tenantID, rec.ID)
	emailKey := s.emailKey(tenantID, rec.Email)

	err = s.retry(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, emailKey, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return credential.ErrDuplicateEmail
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			pipe.Set(ctx, emailKey, rec.ID, 0)
			return nil
		})
		return err
	}, emailKey, key)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

func (s *Store) ResetFailedAttempts(ctx context.Context, tenantID, id string) error {
	_, err := s.Update(ctx, tenantID, id, credential.Patch{FailedLoginAttempts: credential.Ptr(0)})
	return err
}

// RecordFailedAttempt increments the failed-login counter and returns the
// new value.
func (s *Store) RecordFailedAttempt(ctx context.Context, tenantID, id string) (int, error) {
	key := s.recKey(tenantID, id)
	var count int
	err := s.retry(ctx, func(tx *redis.Tx) error {
		rec, err := s.read(ctx, tx, key)
		if err != nil {
			return err
		}
		rec.FailedLoginAttempts++
		encoded, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err != nil {
			return err
		}
		count = rec.FailedLoginAttempts
		return nil
	}, key)
	return count, err
}

// CreateTenant allocates a tenant ID and records its name.
func (s *Store) CreateTenant(ctx context.Context, name string) (string, error) {
	id := uuid.NewString()
	if err := s.redis.HSet(ctx, s.tenantsKey(), id, strings.TrimSpace(name)).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return id, nil
}

func (s *Store) read(ctx context.Context, tx *redis.Tx, key string) (*credential.Record, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, credential.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(data)
}

// retry runs fn under WATCH, retrying when another client touched a watched
// key. Domain errors from fn are returned unchanged.
func (s *Store) retry(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, credential.ErrRecordNotFound),
				errors.Is(err, credential.ErrStampConflict),
				errors.Is(err, credential.ErrTOTPStepUsed),
				errors.Is(err, credential.ErrDuplicateEmail),
				errors.Is(err, ErrCorruptRecord):
				return err
			default:
				return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
		}
		return nil
	}
	return ErrContention
}

func decodeRecord(data []byte) (*credential.Record, error) {
	var rec credential.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return &rec, nil
}

var (
	_ credential.Store                 = (*Store)(nil)
	_ credential.FailedAttemptRecorder = (*Store)(nil)
	_ credential.TenantProvisioner     = (*Store)(nil)
)
