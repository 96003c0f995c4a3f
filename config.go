package stampauth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/stampauth/secret"
)

// Config is the complete Engine configuration. Start from DefaultConfig and
// override what you need; Builder.Build validates it.
type Config struct {
	JWT      JWTConfig
	Tokens   TokenConfig
	TOTP     TOTPConfig
	Password PasswordConfig
	Cipher   CipherConfig
	Links    LinkConfig
	Routes   RouteConfig
	Account  AccountConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

// JWTConfig selects the signing algorithm and keys. Ignored when a custom
// TokenSigner is supplied.
type JWTConfig struct {
	SigningMethod string // "ed25519" or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	KeyID         string
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// TokenConfig holds the lifetime of every token variant.
type TokenConfig struct {
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	MFATempTTL       time.Duration
	RecoveryTTL      time.Duration
	VerificationTTL  time.Duration
	ImpersonationTTL time.Duration
}

// TOTPConfig controls MFA enrollment. Issuer is shown in authenticator apps.
//
// With EnforceReplayProtection each code is accepted once: the step it
// matched is persisted and any step at or before it is refused.
type TOTPConfig struct {
	Issuer string
	Digits int
	Period time.Duration
	Skew   uint
	QRSize int

	EnforceReplayProtection bool
}

// PasswordConfig holds argon2id cost parameters and password policy.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	MinLength int
	MaxLength int

	// UpgradeOnLogin re-hashes weak or legacy hashes after a successful
	// credential check.
	UpgradeOnLogin bool
}

// CipherConfig keys the AES-GCM cipher that protects MFA secrets. Ignored
// when a custom SecretCipher is supplied.
type CipherConfig struct {
	Key []byte
}

// LinkConfig holds the base URLs the recovery and verification tokens are
// appended to as a "token" query parameter.
type LinkConfig struct {
	RecoveryURL     string
	VerificationURL string
}

// RouteConfig picks the landing page returned with a direct login.
type RouteConfig struct {
	Default string
	ByRole  map[string]string
}

// AccountConfig controls registration and login gating.
type AccountConfig struct {
	DefaultRoleID string
	// RequireVerifiedEmail refuses sessions for accounts that are not ACTIVE.
	RequireVerifiedEmail bool
}

// AuditConfig controls the asynchronous notifier dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig enables the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

const (
	minImpersonationTTL = time.Minute
	maxImpersonationTTL = 2 * time.Hour
	maxPasswordBytes    = 1024
)

// DefaultConfig returns the production defaults. Keys and URLs must still be set.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			SigningMethod: "ed25519",
			Issuer:        "stampauth",
			Leeway:        30 * time.Second,
		},
		Tokens: TokenConfig{
			AccessTTL:        15 * time.Minute,
			RefreshTTL:       7 * 24 * time.Hour,
			MFATempTTL:       5 * time.Minute,
			RecoveryTTL:      time.Hour,
			VerificationTTL:  24 * time.Hour,
			ImpersonationTTL: time.Hour,
		},
		TOTP: TOTPConfig{
			Issuer: "stampauth",
			Digits: 6,
			Period: 30 * time.Second,
			Skew:   1,
			QRSize: 256,

			EnforceReplayProtection: true,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      8,
			MaxLength:      128,
			UpgradeOnLogin: true,
		},
		Routes: RouteConfig{
			Default: "/dashboard",
		},
		Account: AccountConfig{
			DefaultRoleID:        "member",
			RequireVerifiedEmail: true,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Cipher.Key = cloneBytes(cfg.Cipher.Key)
	if cfg.Routes.ByRole != nil {
		out.Routes.ByRole = make(map[string]string, len(cfg.Routes.ByRole))
		for k, v := range cfg.Routes.ByRole {
			out.Routes.ByRole[k] = v
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the configuration for values the Engine cannot run with.
// Key material is checked only by validateKeys, since a custom signer or
// cipher makes it unnecessary.
func (c *Config) Validate() error {
	t := c.Tokens
	if t.AccessTTL <= 0 || t.RefreshTTL <= 0 || t.MFATempTTL <= 0 || t.RecoveryTTL <= 0 || t.VerificationTTL <= 0 {
		return errors.New("token TTLs must be > 0")
	}
	if t.RefreshTTL < t.AccessTTL {
		return errors.New("Tokens RefreshTTL must be >= AccessTTL")
	}
	if t.ImpersonationTTL < minImpersonationTTL || t.ImpersonationTTL > maxImpersonationTTL {
		return fmt.Errorf("Tokens ImpersonationTTL must be between %v and %v", minImpersonationTTL, maxImpersonationTTL)
	}

	if strings.TrimSpace(c.TOTP.Issuer) == "" {
		return errors.New("TOTP Issuer must be set")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("TOTP Period must be > 0")
	}
	if c.TOTP.Skew > 2 {
		return errors.New("TOTP Skew must be <= 2")
	}

	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxLength < c.Password.MinLength || c.Password.MaxLength > maxPasswordBytes {
		return fmt.Errorf("Password MaxLength must be between MinLength and %d", maxPasswordBytes)
	}

	if err := validateLink("Links RecoveryURL", c.Links.RecoveryURL); err != nil {
		return err
	}
	if err := validateLink("Links VerificationURL", c.Links.VerificationURL); err != nil {
		return err
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Audit is enabled")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}

func (c *Config) validateSigningKeys() error {
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}
	return nil
}

func (c *Config) validateCipherKey() error {
	if len(c.Cipher.Key) < secret.MinMasterKeyBytes {
		return fmt.Errorf("Cipher Key must be at least %d bytes", secret.MinMasterKeyBytes)
	}
	return nil
}

func validateLink(name, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%s must be set", name)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", name)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%s must use http or https", name)
	}
	return nil
}

// tokenLink appends token to base as the "token" query parameter.
func tokenLink(base, token string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Config) landingRoute(roleID string) string {
	if route, ok := c.Routes.ByRole[roleID]; ok && route != "" {
		return route
	}
	return c.Routes.Default
}
