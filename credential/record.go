package credential

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a credential record.
type Status string

const (
	// StatusActive marks a verified, usable account.
	StatusActive Status = "ACTIVE"
	// StatusPendingVerification marks an account whose email is not verified yet.
	StatusPendingVerification Status = "PENDING_VERIFICATION"
	// StatusDisabled marks an account that must not authenticate.
	StatusDisabled Status = "DISABLED"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPendingVerification, StatusDisabled:
		return true
	default:
		return false
	}
}

// Record is the user credential record owned by a [Store].
//
// SecurityStamp is the single source of truth for session validity: every
// stamp-bearing token embeds the stamp that was current when it was minted and
// is rejected once the record's stamp moves on.
type Record struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`

	Email        string `json:"email"`
	PasswordHash string `json:"password_hash,omitempty"`

	SecurityStamp string `json:"security_stamp"`

	MFAEnabled         bool   `json:"is_mfa_enabled"`
	MFASecretEncrypted string `json:"mfa_secret_encrypted,omitempty"`

	// TOTPLastUsedStep is the time step of the last accepted TOTP code.
	TOTPLastUsedStep int64 `json:"totp_last_used_step,omitempty"`

	Status          Status     `json:"status"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`

	FailedLoginAttempts int        `json:"failed_login_attempts"`
	LockoutEndAt        *time.Time `json:"lockout_end_at,omitempty"`

	GoogleID string `json:"google_id,omitempty"`
	RoleID   string `json:"role_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasPassword reports whether the record can authenticate with a password.
func (r *Record) HasPassword() bool {
	return r != nil && r.PasswordHash != ""
}

// Usable reports whether the record has at least one credential: a password
// hash or a linked Google identity.
func (r *Record) Usable() bool {
	return r != nil && (r.PasswordHash != "" || r.GoogleID != "")
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.EmailVerifiedAt != nil {
		t := *r.EmailVerifiedAt
		out.EmailVerifiedAt = &t
	}
	if r.LockoutEndAt != nil {
		t := *r.LockoutEndAt
		out.LockoutEndAt = &t
	}
	return &out
}

// NormalizeEmail canonicalizes an email address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
