// Package credential defines the user credential record and the storage
// contract the authentication engine consumes.
//
// The package is a leaf: storage adapters under store/ and the root engine both
// depend on it, never the other way around.
package credential

import (
	"context"
	"errors"
)

var (
	// ErrRecordNotFound is returned when no record matches the lookup.
	ErrRecordNotFound = errors.New("credential record not found")
	// ErrStampConflict is returned by Update when Patch.IfStamp no longer
	// matches the stored security stamp.
	ErrStampConflict = errors.New("security stamp changed concurrently")
	// ErrDuplicateEmail is returned by Create when the email is taken in the tenant.
	ErrDuplicateEmail = errors.New("email already registered in tenant")
	// ErrTOTPStepUsed is returned by Update when Patch.TOTPLastUsedStep does
	// not move past the stored step.
	ErrTOTPStepUsed = errors.New("totp step already used")
)

// Store reads and writes credential records keyed by (tenant, id) or
// (tenant, email). Implementations must be safe for concurrent use.
type Store interface {
	GetByEmail(ctx context.Context, tenantID, email string) (*Record, error)
	GetByID(ctx context.Context, tenantID, id string) (*Record, error)
	Update(ctx context.Context, tenantID, id string, patch Patch) (*Record, error)
	Create(ctx context.Context, tenantID string, rec Record) (*Record, error)
	ResetFailedAttempts(ctx context.Context, tenantID, id string) error
}

// FailedAttemptRecorder is implemented by stores that can bump the failed
// login counter in a single write. Lockout policy built on the counter lives
// outside this module.
type FailedAttemptRecorder interface {
	RecordFailedAttempt(ctx context.Context, tenantID, id string) (int, error)
}

// TenantProvisioner creates tenants for self-service registration.
type TenantProvisioner interface {
	CreateTenant(ctx context.Context, name string) (string, error)
}
