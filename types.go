package stampauth

import (
	"context"
	"time"

	"github.com/MrEthical07/stampauth/credential"
	"github.com/MrEthical07/stampauth/jwt"
)

type (
	// Record is the stored credential record.
	Record = credential.Record
	// Patch is a partial update of a Record, optionally conditional on the stamp.
	Patch = credential.Patch
	// Status is an account lifecycle status.
	Status = credential.Status
	// CredentialStore persists credential records.
	CredentialStore = credential.Store
	// FailedAttemptRecorder is an optional CredentialStore extension.
	FailedAttemptRecorder = credential.FailedAttemptRecorder
	// TenantProvisioner creates tenants during self-service registration.
	TenantProvisioner = credential.TenantProvisioner
	// Claims is the token payload shared by every token variant.
	Claims = jwt.Claims
	// TokenType discriminates token variants.
	TokenType = jwt.TokenType
)

const (
	StatusActive              = credential.StatusActive
	StatusPendingVerification = credential.StatusPendingVerification
	StatusDisabled            = credential.StatusDisabled
)

// TokenSigner mints and verifies signed tokens. Verify checks signature,
// algorithm and expiry only.
type TokenSigner interface {
	Sign(claims Claims, ttl time.Duration) (string, error)
	Verify(token string) (*Claims, error)
}

// TotpEngine handles TOTP secrets and codes.
type TotpEngine interface {
	GenerateSecret() (string, error)
	BuildEnrollmentURI(secret, issuer, label string) (string, error)
	QRCode(uri string) (string, error)
	// Validate returns the time step code matched, for replay checks.
	Validate(code, secret string) (step int64, ok bool)
}

// SecretCipher encrypts MFA secrets at rest.
type SecretCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	VerifyDummy(password string)
	NeedsUpgrade(encodedHash string) bool
}

// Notifier receives domain events such as password_reset_requested.
// Emit is called from a background goroutine and must not block for long.
type Notifier interface {
	Emit(ctx context.Context, event string, payload map[string]string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event string, payload map[string]string)

func (f NotifierFunc) Emit(ctx context.Context, event string, payload map[string]string) {
	f(ctx, event, payload)
}

// User is the sanitized view of a credential record. It never carries the
// password hash or the MFA secret.
type User struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	Email         string     `json:"email"`
	RoleID        string     `json:"role_id,omitempty"`
	Status        Status     `json:"status"`
	MFAEnabled    bool       `json:"is_mfa_enabled"`
	EmailVerified *time.Time `json:"email_verified_at,omitempty"`
	GoogleLinked  bool       `json:"google_linked"`
	HasPassword   bool       `json:"has_password"`
	CreatedAt     time.Time  `json:"created_at"`
}

func sanitize(r *Record) *User {
	if r == nil {
		return nil
	}
	u := &User{
		ID:           r.ID,
		TenantID:     r.TenantID,
		Email:        r.Email,
		RoleID:       r.RoleID,
		Status:       r.Status,
		MFAEnabled:   r.MFAEnabled,
		GoogleLinked: r.GoogleID != "",
		HasPassword:  r.HasPassword(),
		CreatedAt:    r.CreatedAt,
	}
	if r.EmailVerifiedAt != nil {
		at := *r.EmailVerifiedAt
		u.EmailVerified = &at
	}
	return u
}

// Session is an issued access/refresh token pair.
type Session struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	User             *User     `json:"user"`
	LandingPageRoute string    `json:"landing_page_route,omitempty"`
}

// LoginResult is either a direct session or an MFA challenge. Exactly one of
// Session and MFAToken is set, and MFARequired says which.
type LoginResult struct {
	MFARequired bool     `json:"mfa_required"`
	MFAToken    string   `json:"mfa_token,omitempty"`
	Session     *Session `json:"session,omitempty"`
}

func directLogin(s *Session) *LoginResult {
	return &LoginResult{Session: s}
}

func mfaChallenge(token string) *LoginResult {
	return &LoginResult{MFARequired: true, MFAToken: token}
}

// MFAState is the TOTP enrollment state of an account.
type MFAState int

const (
	MFANotSetup MFAState = iota
	MFAPendingVerification
	MFAEnabled
)

func (s MFAState) String() string {
	switch s {
	case MFAPendingVerification:
		return "PENDING_VERIFICATION"
	case MFAEnabled:
		return "ENABLED"
	default:
		return "NOT_SETUP"
	}
}

// MFAStateOf derives the enrollment state from a record.
func MFAStateOf(r *Record) MFAState {
	switch {
	case r == nil || r.MFASecretEncrypted == "":
		return MFANotSetup
	case r.MFAEnabled:
		return MFAEnabled
	default:
		return MFAPendingVerification
	}
}

// MFASetup is returned once by SetupMfa. Secret is shown to the user for
// manual entry and is never retrievable again.
type MFASetup struct {
	Secret     string `json:"secret"`
	OtpauthURL string `json:"otpauth_url"`
	QRCode     string `json:"qr_code"`
}

// DisableMfaRequest carries the proofs DisableMfa requires.
type DisableMfaRequest struct {
	Password string
	Code     string
}

// ResetPasswordRequest completes a password recovery.
type ResetPasswordRequest struct {
	Token       string
	NewPassword string
}

// ImpersonateRequest asks for an impersonation token. Whether ActorID may
// impersonate TargetID is decided by the caller before invoking Impersonate.
type ImpersonateRequest struct {
	ActorID  string
	TargetID string
	TenantID string
	Reason   string
}

// ImpersonationResult carries the short-lived impersonation token.
type ImpersonationResult struct {
	Token          string    `json:"token"`
	ExpiresAt      time.Time `json:"expires_at"`
	ImpersonatedBy string    `json:"impersonated_by"`
	User           *User     `json:"user"`
}

// RegisterRequest creates a password account. When TenantID is empty a new
// tenant named TenantName is provisioned.
type RegisterRequest struct {
	TenantID   string
	TenantName string
	Email      string
	Password   string
	RoleID     string
}

// RegisterResult is returned by Register.
type RegisterResult struct {
	User                 *User `json:"user"`
	VerificationRequired bool  `json:"verification_required"`
}

// GoogleProfile is the verified identity returned by an external Google
// OAuth exchange.
type GoogleProfile struct {
	ID    string
	Email string
}

// Principal is the authenticated caller behind an access or impersonation token.
type Principal struct {
	UserID              string    `json:"user_id"`
	TenantID            string    `json:"tenant_id"`
	Email               string    `json:"email"`
	RoleID              string    `json:"role_id,omitempty"`
	TokenType           TokenType `json:"token_type"`
	ImpersonatedBy      string    `json:"impersonated_by,omitempty"`
	ImpersonationReason string    `json:"impersonation_reason,omitempty"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// Impersonated reports whether the principal acts on behalf of another user.
func (p *Principal) Impersonated() bool {
	return p != nil && p.ImpersonatedBy != ""
}
