// Package postgres persists credential records in PostgreSQL through
// database/sql and the pgx driver. Stamp rotations are a single
// UPDATE ... WHERE security_stamp = $n.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/MrEthical07/stampauth/credential"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements credential.Store on PostgreSQL.
type Store struct {
	db  DBTX
	now func() time.Time
}

// New returns a Store on db. The schema must already exist; see Migrate.
func New(db DBTX) *Store {
	return &Store{db: db, now: time.Now}
}

// Open connects with the pgx driver and applies pending migrations.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded goose migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

const selectColumns = `tenant_id, id, email, password_hash, security_stamp, mfa_enabled,
	mfa_secret_encrypted, totp_last_used_step, status, email_verified_at, failed_login_attempts,
	lockout_end_at, google_id, role_id, created_at, updated_at`

func (s *Store) GetByEmail(ctx context.Context, tenantID, email string) (*credential.Record, error) {
	query := `SELECT ` + selectColumns + ` FROM credentials WHERE tenant_id = $1 AND email = $2`
	return scanRecord(s.db.QueryRowContext(ctx, query, tenantID, credential.NormalizeEmail(email)))
}

func (s *Store) GetByID(ctx context.Context, tenantID, id string) (*credential.Record, error) {
	query := `SELECT ` + selectColumns + ` FROM credentials WHERE tenant_id = $1 AND id = $2`
	return scanRecord(s.db.QueryRowContext(ctx, query, tenantID, id))
}

func (s *Store) Update(ctx context.Context, tenantID, id string, patch credential.Patch) (*credential.Record, error) {
	query, args := buildUpdate(tenantID, id, patch, s.now())

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if isUniqueViolation(err) {
		return nil, credential.ErrDuplicateEmail
	}
	if !errors.Is(err, credential.ErrRecordNotFound) || (patch.IfStamp == "" && patch.TOTPLastUsedStep == nil) {
		return rec, err
	}

	// No row matched. Tell a missing record from a failed condition.
	var cur credential.Record
	err = s.db.QueryRowContext(ctx,
		`SELECT security_stamp, totp_last_used_step FROM credentials WHERE tenant_id = $1 AND id = $2`,
		tenantID, id).Scan(&cur.SecurityStamp, &cur.TOTPLastUsedStep)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credential.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if err := patch.Check(&cur); err != nil {
		return nil, err
	}
	// The condition held on re-read, so the row changed in between.
	return nil, credential.ErrStampConflict
}

// buildUpdate renders patch as one conditional UPDATE ... RETURNING.
func buildUpdate(tenantID, id string, patch credential.Patch, now time.Time) (string, []any) {
	var sets []string
	args := []any{tenantID, id}
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.Email != nil {
		set("email", credential.NormalizeEmail(*patch.Email))
	}
	if patch.PasswordHash != nil {
		set("password_hash", *patch.PasswordHash)
	}
	if patch.SecurityStamp != nil {
		set("security_stamp", *patch.SecurityStamp)
	}
	if patch.MFAEnabled != nil {
		set("mfa_enabled", *patch.MFAEnabled)
	}
	if patch.MFASecretEncrypted != nil {
		set("mfa_secret_encrypted", *patch.MFASecretEncrypted)
	}
	if patch.TOTPLastUsedStep != nil {
		set("totp_last_used_step", *patch.TOTPLastUsedStep)
	}
	if patch.Status != nil {
		set("status", string(*patch.Status))
	}
	if patch.EmailVerifiedAt != nil {
		set("email_verified_at", *patch.EmailVerifiedAt)
	}
	if patch.FailedLoginAttempts != nil {
		set("failed_login_attempts", *patch.FailedLoginAttempts)
		if *patch.FailedLoginAttempts == 0 {
			sets = append(sets, "lockout_end_at = NULL")
		}
	}
	if patch.GoogleID != nil {
		set("google_id", *patch.GoogleID)
	}
	if patch.RoleID != nil {
		set("role_id", *patch.RoleID)
	}
	set("updated_at", now)

	query := `UPDATE credentials SET ` + strings.Join(sets, ", ") + ` WHERE tenant_id = $1 AND id = $2`
	if patch.IfStamp != "" {
		args = append(args, patch.IfStamp)
		query += fmt.Sprintf(" AND security_stamp = $%d", len(args))
	}
	if patch.TOTPLastUsedStep != nil {
		args = append(args, *patch.TOTPLastUsedStep)
		query += fmt.Sprintf(" AND totp_last_used_step < $%d", len(args))
	}
	return query + ` RETURNING ` + selectColumns, args
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

	query := `INSERT INTO credentials (` + selectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := s.db.ExecContext(ctx, query,
		rec.TenantID, rec.ID, rec.Email, rec.PasswordHash, rec.SecurityStamp, rec.MFAEnabled,
		rec.MFASecretEncrypted, rec.TOTPLastUsedStep, string(rec.Status), nullTime(rec.EmailVerifiedAt), rec.FailedLoginAttempts,
		nullTime(rec.LockoutEndAt), rec.GoogleID, rec.RoleID, rec.CreatedAt, rec.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return nil, credential.ErrDuplicateEmail
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec.Clone(), nil
}

func (s *Store) ResetFailedAttempts(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET failed_login_attempts = 0, lockout_end_at = NULL, updated_at = $3
		 WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, s.now())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return credential.ErrRecordNotFound
	}
	return nil
}

// RecordFailedAttempt increments the counter in one statement.
func (s *Store) RecordFailedAttempt(ctx context.Context, tenantID, id string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`UPDATE credentials SET failed_login_attempts = failed_login_attempts + 1, updated_at = $3
		 WHERE tenant_id = $1 AND id = $2
		 RETURNING failed_login_attempts`,
		tenantID, id, s.now()).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, credential.ErrRecordNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return count, nil
}

// CreateTenant inserts a tenant row and returns its ID.
func (s *Store) CreateTenant(ctx context.Context, name string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, created_at) VALUES ($1, $2, $3)`,
		id, strings.TrimSpace(name), s.now())
	if err != nil {
		return "", fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

func scanRecord(row *sql.Row) (*credential.Record, error) {
	var (
		rec      credential.Record
		status   string
		verified sql.NullTime
		lockout  sql.NullTime
	)
	err := row.Scan(
		&rec.TenantID, &rec.ID, &rec.Email, &rec.PasswordHash, &rec.SecurityStamp, &rec.MFAEnabled,
		&rec.MFASecretEncrypted, &rec.TOTPLastUsedStep, &status, &verified, &rec.FailedLoginAttempts,
		&lockout, &rec.GoogleID, &rec.RoleID, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credential.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	rec.Status = credential.Status(status)
	if verified.Valid {
		t := verified.Time
		rec.EmailVerifiedAt = &t
	}
	if lockout.Valid {
		t := lockout.Time
		rec.LockoutEndAt = &t
	}
	return &rec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var (
	_ credential.Store                 = (*Store)(nil)
	_ credential.FailedAttemptRecorder = (*Store)(nil)
	_ credential.TenantProvisioner     = (*Store)(nil)
)
