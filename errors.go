package stampauth

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/stampauth/credential"
)

// Error kinds. Every error returned by an Engine operation that is not an
// infrastructure failure matches exactly one of these under errors.Is.
var (
	// ErrInvalidCredentials covers wrong passwords and wrong MFA codes. The
	// message never says which field was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken covers bad signature, expiry, wrong type and stamp mismatch.
	ErrInvalidToken = errors.New("invalid token")
	// ErrBusinessRuleViolation covers requests that are well formed but not
	// allowed in the current state.
	ErrBusinessRuleViolation = errors.New("business rule violation")
	// ErrNotFound is returned where the absence of a record is not sensitive.
	ErrNotFound = errors.New("not found")
	// ErrUnauthenticated is returned when no valid session or MFA challenge exists.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Specific errors. Each wraps exactly one kind.
var (
	ErrMFAAlreadyEnabled     = fmt.Errorf("%w: mfa already enabled", ErrBusinessRuleViolation)
	ErrMFANotInitiated       = fmt.Errorf("%w: mfa setup not initiated", ErrBusinessRuleViolation)
	ErrMFAAlreadyDisabled    = fmt.Errorf("%w: mfa already disabled", ErrBusinessRuleViolation)
	ErrMFANotEnabled         = fmt.Errorf("%w: mfa not enabled", ErrUnauthenticated)
	ErrInvalidMFACode        = fmt.Errorf("%w: invalid mfa token", ErrInvalidCredentials)
	ErrMFALoginFailed        = fmt.Errorf("%w: invalid or expired mfa code", ErrUnauthenticated)
	ErrMFATokenInvalid       = fmt.Errorf("%w: invalid or expired mfa token", ErrUnauthenticated)
	ErrTokenRevoked          = fmt.Errorf("%w: token has been revoked", ErrInvalidToken)
	ErrAccountExists         = fmt.Errorf("%w: account already exists", ErrBusinessRuleViolation)
	ErrAccountInactive       = fmt.Errorf("%w: account is not active", ErrUnauthenticated)
	ErrPasswordReuse         = fmt.Errorf("%w: new password must be different from current password", ErrBusinessRuleViolation)
	ErrPasswordPolicy        = fmt.Errorf("%w: password policy violation", ErrBusinessRuleViolation)
	ErrInvalidEmail          = fmt.Errorf("%w: invalid email address", ErrBusinessRuleViolation)
	ErrEmailAlreadyVerified  = fmt.Errorf("%w: email already verified", ErrBusinessRuleViolation)
	ErrConcurrentUpdate      = fmt.Errorf("%w: credential changed concurrently, retry", ErrBusinessRuleViolation)
	ErrTenantRequired        = fmt.Errorf("%w: tenant required", ErrBusinessRuleViolation)
	ErrUserNotFound          = fmt.Errorf("%w: user not found", ErrNotFound)
	ErrImpersonationReason   = fmt.Errorf("%w: impersonation reason required", ErrBusinessRuleViolation)
	ErrSelfImpersonation     = fmt.Errorf("%w: cannot impersonate yourself", ErrBusinessRuleViolation)
	ErrGoogleAccountMismatch = fmt.Errorf("%w: account linked to a different google identity", ErrInvalidCredentials)
)

// ErrEngineNotReady is returned when a method is called on a nil or unbuilt Engine.
var ErrEngineNotReady = errors.New("engine not initialized")

// ErrorKind names the class an error belongs to.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindInvalidCredentials
	KindInvalidToken
	KindBusinessRule
	KindNotFound
	KindUnauthenticated
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindInvalidToken:
		return "invalid_token"
	case KindBusinessRule:
		return "business_rule_violation"
	case KindNotFound:
		return "not_found"
	case KindUnauthenticated:
		return "unauthenticated"
	default:
		return "internal"
	}
}

// Kind classifies err. Anything outside the taxonomy, including nil, is
// KindInternal.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInvalidCredentials):
		return KindInvalidCredentials
	case errors.Is(err, ErrInvalidToken):
		return KindInvalidToken
	case errors.Is(err, ErrBusinessRuleViolation):
		return KindBusinessRule
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	default:
		return KindInternal
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, credential.ErrRecordNotFound)
}
