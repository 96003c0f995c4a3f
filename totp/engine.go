// Package totp generates TOTP secrets, enrollment URIs and QR codes, and
// verifies authenticator codes. It wraps github.com/pquerna/otp.
package totp

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	secretBytes   = 20
	defaultQRSize = 256
	dataURLPrefix = "data:image/png;base64,"
)

var (
	// ErrInvalidSecret is returned when a secret is not valid base32.
	ErrInvalidSecret = errors.New("totp secret is not valid base32")
	// ErrMissingIssuer is returned by BuildEnrollmentURI without an issuer.
	ErrMissingIssuer = errors.New("totp issuer required")
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Config controls code shape and the verification window. Zero values take
// the authenticator-app defaults: 6 digits, 30 second period, one step of skew.
type Config struct {
	Digits int
	Period time.Duration
	Skew   uint
	QRSize int

	// Now overrides the verification clock.
	Now func() time.Time
}

// Engine implements TOTP enrollment and verification. It is stateless.
type Engine struct {
	digits otp.Digits
	period uint
	skew   uint
	qrSize int
	now    func() time.Time
}

// New returns an Engine for cfg.
func New(cfg Config) (*Engine, error) {
	e := &Engine{
		digits: otp.DigitsSix,
		period: 30,
		skew:   1,
		qrSize: defaultQRSize,
		now:    time.Now,
	}
	switch cfg.Digits {
	case 0, 6:
	case 8:
		e.digits = otp.DigitsEight
	default:
		return nil, fmt.Errorf("unsupported totp digits %d", cfg.Digits)
	}
	if cfg.Period < 0 || (cfg.Period > 0 && cfg.Period%time.Second != 0) {
		return nil, errors.New("totp period must be a whole number of seconds")
	}
	if cfg.Period > 0 {
		e.period = uint(cfg.Period / time.Second)
	}
	if cfg.Skew > 0 {
		e.skew = cfg.Skew
	}
	if cfg.QRSize > 0 {
		e.qrSize = cfg.QRSize
	}
	if cfg.Now != nil {
		e.now = cfg.Now
	}
	return e, nil
}

// GenerateSecret returns 160 random bits encoded as unpadded base32.
func (e *Engine) GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return secretEncoding.EncodeToString(raw), nil
}

// BuildEnrollmentURI returns the otpauth:// URI an authenticator app scans.
func (e *Engine) BuildEnrollmentURI(secret, issuer, label string) (string, error) {
	if strings.TrimSpace(issuer) == "" {
		return "", ErrMissingIssuer
	}
	raw, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: label,
		Period:      e.period,
		Secret:      raw,
		Digits:      e.digits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", err
	}
	return key.URL(), nil
}

// QRCode renders uri as a PNG and returns it as a data: URL.
func (e *Engine) QRCode(uri string) (string, error) {
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return "", err
	}
	img, err := key.Image(e.qrSize, e.qrSize)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Verify reports whether code is valid for secret at the current time.
func (e *Engine) Verify(code, secret string) bool {
	_, ok := e.Validate(code, secret)
	return ok
}

// Validate checks code against every time step inside the skew window and
// returns the step it matched, counted in periods since the Unix epoch.
// Callers use the step to refuse a code that was already accepted.
func (e *Engine) Validate(code, secret string) (int64, bool) {
	code = strings.TrimSpace(code)
	if len(code) != e.digits.Length() {
		return 0, false
	}
	opts := totp.ValidateOpts{
		Period:    e.period,
		Digits:    e.digits,
		Algorithm: otp.AlgorithmSHA1,
	}
	period := int64(e.period)
	current := e.now().UTC().Unix() / period
	skew := int64(e.skew)
	for step := current - skew; step <= current+skew; step++ {
		if step < 0 {
			continue
		}
		want, err := totp.GenerateCodeCustom(secret, time.Unix(step*period, 0).UTC(), opts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return step, true
		}
	}
	return 0, false
}

// Code returns the current code for secret. It exists for tests and tooling.
func (e *Engine) Code(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at.UTC(), totp.ValidateOpts{
		Period:    e.period,
		Digits:    e.digits,
		Algorithm: otp.AlgorithmSHA1,
	})
}

func decodeSecret(secret string) ([]byte, error) {
	cleaned := strings.ToUpper(strings.TrimRight(strings.TrimSpace(secret), "="))
	raw, err := secretEncoding.DecodeString(cleaned)
	if err != nil || len(raw) == 0 {
		return nil, ErrInvalidSecret
	}
	return raw, nil
}
