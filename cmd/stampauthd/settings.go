package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/stampauth"
)

// settings is everything the daemon reads from the environment.
type settings struct {
	Addr            string
	ShutdownTimeout time.Duration
	LogLevel        slog.Level

	Store       string // memory, redis or postgres
	RedisAddr   string
	RedisPrefix string
	PostgresDSN string

	SESFrom    string
	AWSRegion  string
	NATSURL    string
	NATSPrefix string

	AdminRoles []string

	// EphemeralKeys is set when signing or cipher keys were generated at
	// startup. Tokens and MFA secrets then do not survive a restart.
	EphemeralKeys bool

	Engine stampauth.Config
}

func getEnv(getenv func(string) string, key, fallback string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return fallback
}

func loadSettings(getenv func(string) string) (settings, error) {
	s := settings{
		Addr:        getEnv(getenv, "STAMPAUTH_ADDR", ":8080"),
		Store:       getEnv(getenv, "STAMPAUTH_STORE", "memory"),
		RedisAddr:   getEnv(getenv, "STAMPAUTH_REDIS_ADDR", "localhost:6379"),
		RedisPrefix: getEnv(getenv, "STAMPAUTH_REDIS_PREFIX", "sa"),
		PostgresDSN: getEnv(getenv, "STAMPAUTH_POSTGRES_DSN", ""),
		SESFrom:     getEnv(getenv, "STAMPAUTH_SES_FROM", ""),
		AWSRegion:   getEnv(getenv, "AWS_REGION", "us-east-1"),
		NATSURL:     getEnv(getenv, "STAMPAUTH_NATS_URL", ""),
		NATSPrefix:  getEnv(getenv, "STAMPAUTH_NATS_PREFIX", ""),
		AdminRoles:  strings.Split(getEnv(getenv, "STAMPAUTH_ADMIN_ROLES", "admin"), ","),
	}

	var err error
	if s.ShutdownTimeout, err = time.ParseDuration(getEnv(getenv, "STAMPAUTH_SHUTDOWN_TIMEOUT", "15s")); err != nil {
		return settings{}, fmt.Errorf("STAMPAUTH_SHUTDOWN_TIMEOUT: %w", err)
	}
	if err := s.LogLevel.UnmarshalText([]byte(getEnv(getenv, "STAMPAUTH_LOG_LEVEL", "info"))); err != nil {
		return settings{}, fmt.Errorf("STAMPAUTH_LOG_LEVEL: %w", err)
	}

	switch s.Store {
	case "memory", "redis":
	case "postgres":
		if s.PostgresDSN == "" {
			return settings{}, fmt.Errorf("STAMPAUTH_POSTGRES_DSN is required for the postgres store")
		}
	default:
		return settings{}, fmt.Errorf("STAMPAUTH_STORE: unknown store %q", s.Store)
	}

	cfg := stampauth.DefaultConfig()
	cfg.JWT.Issuer = getEnv(getenv, "STAMPAUTH_JWT_ISSUER", cfg.JWT.Issuer)
	cfg.JWT.Audience = getEnv(getenv, "STAMPAUTH_JWT_AUDIENCE", "")
	cfg.JWT.SigningMethod = getEnv(getenv, "STAMPAUTH_JWT_METHOD", cfg.JWT.SigningMethod)
	cfg.TOTP.Issuer = getEnv(getenv, "STAMPAUTH_TOTP_ISSUER", cfg.TOTP.Issuer)
	cfg.Links.RecoveryURL = getEnv(getenv, "STAMPAUTH_RECOVERY_URL", "http://localhost:8080/reset-password")
	cfg.Links.VerificationURL = getEnv(getenv, "STAMPAUTH_VERIFICATION_URL", "http://localhost:8080/verify-email")
	cfg.Account.DefaultRoleID = getEnv(getenv, "STAMPAUTH_DEFAULT_ROLE", cfg.Account.DefaultRoleID)
	cfg.Metrics.EnableLatencyHistograms = true

	if cfg.Account.RequireVerifiedEmail, err = strconv.ParseBool(getEnv(getenv, "STAMPAUTH_REQUIRE_VERIFIED_EMAIL", "true")); err != nil {
		return settings{}, fmt.Errorf("STAMPAUTH_REQUIRE_VERIFIED_EMAIL: %w", err)
	}
	if cfg.TOTP.EnforceReplayProtection, err = strconv.ParseBool(getEnv(getenv, "STAMPAUTH_TOTP_REPLAY_PROTECTION", "true")); err != nil {
		return settings{}, fmt.Errorf("STAMPAUTH_TOTP_REPLAY_PROTECTION: %w", err)
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"STAMPAUTH_ACCESS_TTL", &cfg.Tokens.AccessTTL},
		{"STAMPAUTH_REFRESH_TTL", &cfg.Tokens.RefreshTTL},
		{"STAMPAUTH_MFA_TEMP_TTL", &cfg.Tokens.MFATempTTL},
		{"STAMPAUTH_IMPERSONATION_TTL", &cfg.Tokens.ImpersonationTTL},
	}
	for _, d := range durations {
		raw := getEnv(getenv, d.key, "")
		if raw == "" {
			continue
		}
		if *d.dst, err = time.ParseDuration(raw); err != nil {
			return settings{}, fmt.Errorf("%s: %w", d.key, err)
		}
	}

	if err := s.loadSigningKeys(getenv, &cfg); err != nil {
		return settings{}, err
	}
	if err := s.loadCipherKey(getenv, &cfg); err != nil {
		return settings{}, err
	}

	s.Engine = cfg
	return s, nil
}

func (s *settings) loadSigningKeys(getenv func(string) string, cfg *stampauth.Config) error {
	switch cfg.JWT.SigningMethod {
	case "hs256":
		secret := getEnv(getenv, "STAMPAUTH_JWT_SECRET", "")
		if secret == "" {
			return fmt.Errorf("STAMPAUTH_JWT_SECRET is required for hs256")
		}
		cfg.JWT.PrivateKey = []byte(secret)
		return nil
	case "ed25519":
	default:
		return fmt.Errorf("STAMPAUTH_JWT_METHOD: unsupported method %q", cfg.JWT.SigningMethod)
	}

	privPath := getEnv(getenv, "STAMPAUTH_JWT_PRIVATE_KEY_FILE", "")
	pubPath := getEnv(getenv, "STAMPAUTH_JWT_PUBLIC_KEY_FILE", "")
	if privPath == "" && pubPath == "" {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return fmt.Errorf("generate signing key: %w", err)
		}
		cfg.JWT.PrivateKey, cfg.JWT.PublicKey = priv, pub
		s.EphemeralKeys = true
		return nil
	}

	priv, err := os.ReadFile(privPath)
	if err != nil {
		return fmt.Errorf("read STAMPAUTH_JWT_PRIVATE_KEY_FILE: %w", err)
	}
	pub, err := os.ReadFile(pubPath)
	if err != nil {
		return fmt.Errorf("read STAMPAUTH_JWT_PUBLIC_KEY_FILE: %w", err)
	}
	cfg.JWT.PrivateKey, cfg.JWT.PublicKey = priv, pub
	cfg.JWT.KeyID = getEnv(getenv, "STAMPAUTH_JWT_KEY_ID", "")
	return nil
}

func (s *settings) loadCipherKey(getenv func(string) string, cfg *stampauth.Config) error {
	raw := getEnv(getenv, "STAMPAUTH_CIPHER_KEY", "")
	if raw == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return fmt.Errorf("generate cipher key: %w", err)
		}
		cfg.Cipher.Key = key
		s.EphemeralKeys = true
		return nil
	}

	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("STAMPAUTH_CIPHER_KEY must be base64: %w", err)
	}
	cfg.Cipher.Key = key
	return nil
}
