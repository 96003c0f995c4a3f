package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the JWS algorithm used by a [Manager].
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Ed25519 keys.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256 over a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

const minHMACKeyBytes = 32

var (
	// ErrInvalidTTL is returned by Sign for non-positive lifetimes.
	ErrInvalidTTL = errors.New("token ttl must be positive")
	// ErrMissingType is returned by Sign when claims carry no token type.
	ErrMissingType = errors.New("token type required")
)

// Config holds signing keys and validation options.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte

	// Now overrides the clock used for iat/exp and validation. Defaults to time.Now.
	Now func() time.Time
}

// Manager signs and verifies compact JWTs. Keys are parsed once by
// NewManager; a Manager is stateless afterwards and safe for concurrent use.
type Manager struct {
	config     Config
	method     gojwt.SigningMethod
	signKey    any
	verifyKey  any
	verifyKeys map[string]any
}

// NewManager validates cfg, parses its keys and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{config: cfg}
	var err error
	switch cfg.SigningMethod {
	case MethodHS256:
		err = m.loadHMAC()
	case MethodEd25519:
		err = m.loadEd25519()
	default:
		return nil, errors.New("unsupported signing method")
	}
	if err != nil {
		return nil, err
	}

	if cfg.KeyID != "" && len(m.verifyKeys) > 0 {
		if _, ok := m.verifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}
	return m, nil
}

func (j *Manager) loadHMAC() error {
	if len(j.config.PrivateKey) < minHMACKeyBytes {
		return fmt.Errorf("hs256 requires a key of at least %d bytes", minHMACKeyBytes)
	}
	j.method = gojwt.SigningMethodHS256
	j.signKey = j.config.PrivateKey
	j.verifyKey = j.config.PrivateKey
	return j.loadVerifyKeys(func(key []byte) (any, error) {
		if len(key) < minHMACKeyBytes {
			return nil, fmt.Errorf("hs256 requires a key of at least %d bytes", minHMACKeyBytes)
		}
		return key, nil
	})
}

func (j *Manager) loadEd25519() error {
	j.method = gojwt.SigningMethodEdDSA
	if len(j.config.PrivateKey) > 0 {
		priv, err := parseEdPrivateKey(j.config.PrivateKey)
		if err != nil {
			return err
		}
		j.signKey = priv
	}
	if len(j.config.PublicKey) > 0 {
		pub, err := parseEdPublicKey(j.config.PublicKey)
		if err != nil {
			return err
		}
		j.verifyKey = pub
	}
	if len(j.config.VerifyKeys) == 0 && j.verifyKey == nil {
		return errors.New("ed25519 requires public key or verify key set")
	}
	return j.loadVerifyKeys(func(key []byte) (any, error) { return parseEdPublicKey(key) })
}

// loadVerifyKeys parses the kid-indexed rotation set.
func (j *Manager) loadVerifyKeys(parse func([]byte) (any, error)) error {
	if len(j.config.VerifyKeys) == 0 {
		return nil
	}
	j.verifyKeys = make(map[string]any, len(j.config.VerifyKeys))
	for kid, raw := range j.config.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return errors.New("verify key map contains empty kid")
		}
		key, err := parse(raw)
		if err != nil {
			return fmt.Errorf("invalid %s verify key for kid %q: %w", j.config.SigningMethod, kid, err)
		}
		j.verifyKeys[kid] = key
	}
	return nil
}

// Sign stamps iss/aud/iat/nbf/exp/jti onto claims and returns the compact
// token. Caller-supplied registered claims other than Subject are overwritten.
func (j *Manager) Sign(claims Claims, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", ErrInvalidTTL
	}
	if claims.Type == "" {
		return "", ErrMissingType
	}
	if j.signKey == nil {
		return "", errors.New("signing key not configured")
	}

	now := j.config.Now()
	claims.RegisteredClaims = gojwt.RegisteredClaims{
		Subject:   claims.Subject,
		Issuer:    j.config.Issuer,
		IssuedAt:  gojwt.NewNumericDate(now),
		NotBefore: gojwt.NewNumericDate(now),
		ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	if j.config.Audience != "" {
		claims.Audience = gojwt.ClaimStrings{j.config.Audience}
	}

	token := gojwt.NewWithClaims(j.method, claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}
	return token.SignedString(j.signKey)
}

// Verify checks signature, algorithm, expiry, issuer and audience and returns
// the decoded claims. Token type and security stamp are left to the caller.
func (j *Manager) Verify(tokenStr string) (*Claims, error) {
	options := []gojwt.ParserOption{
		gojwt.WithValidMethods([]string{j.method.Alg()}),
		gojwt.WithExpirationRequired(),
		gojwt.WithIssuedAt(),
		gojwt.WithTimeFunc(j.config.Now),
	}
	if j.config.Leeway > 0 {
		options = append(options, gojwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, gojwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, gojwt.WithAudience(j.config.Audience))
	}

	claims := &Claims{}
	token, err := gojwt.NewParser(options...).ParseWithClaims(tokenStr, claims, j.keyFunc)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, gojwt.ErrTokenInvalidClaims
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(j.config.Now().Add(j.config.MaxFutureIAT)) {
		return nil, errors.New("token iat too far in the future")
	}
	if claims.Subject == "" || claims.Type == "" {
		return nil, gojwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// keyFunc picks the verification key: from the rotation set by kid when one
// is configured, otherwise the single verify key, pinned to KeyID if set.
func (j *Manager) keyFunc(t *gojwt.Token) (any, error) {
	if t.Method.Alg() != j.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}
	kid, _ := t.Header["kid"].(string)

	if j.verifyKeys != nil {
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := j.verifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}
	if j.config.KeyID != "" && kid != j.config.KeyID {
		return nil, errors.New("unknown kid")
	}
	if j.verifyKey == nil {
		return nil, errors.New("verification key not configured")
	}
	return j.verifyKey, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := gojwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := gojwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
