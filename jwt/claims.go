package jwt

import "github.com/golang-jwt/jwt/v5"

// TokenType discriminates the token variants minted by the engine. It is
// always checked before any other claim is trusted.
type TokenType string

const (
	TypeAccess        TokenType = "access"
	TypeRefresh       TokenType = "refresh"
	TypeMFATemp       TokenType = "mfa_temp"
	TypeRecovery      TokenType = "recovery"
	TypeVerification  TokenType = "verification"
	TypeImpersonation TokenType = "impersonation"
)

// StampChecked reports whether tokens of this type must carry a security
// stamp that matches the live credential record.
func (t TokenType) StampChecked() bool {
	switch t {
	case TypeAccess, TypeRefresh, TypeRecovery, TypeVerification:
		return true
	default:
		return false
	}
}

// Claims is the union of every claim any token variant may carry.
// Subject is the user ID.
type Claims struct {
	Type          TokenType `json:"type"`
	TenantID      string    `json:"tenant_id,omitempty"`
	Email         string    `json:"email,omitempty"`
	RoleID        string    `json:"role_id,omitempty"`
	SecurityStamp string    `json:"security_stamp,omitempty"`
	MFATemp       bool      `json:"mfa_temp,omitempty"`

	ImpersonatedBy      string `json:"impersonated_by,omitempty"`
	ImpersonationReason string `json:"impersonation_reason,omitempty"`

	jwt.RegisteredClaims
}
