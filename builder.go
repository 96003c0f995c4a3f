package stampauth

import (
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/stampauth/internal/audit"
	"github.com/MrEthical07/stampauth/jwt"
	"github.com/MrEthical07/stampauth/password"
	"github.com/MrEthical07/stampauth/secret"
	"github.com/MrEthical07/stampauth/totp"
)

// Builder assembles an Engine. A Builder is single use.
type Builder struct {
	config Config

	store     CredentialStore
	tenants   TenantProvisioner
	notifiers []Notifier
	logger    *slog.Logger
	now       func() time.Time

	signer TokenSigner
	totp   TotpEngine
	cipher SecretCipher
	hasher PasswordHasher

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the credential store. Required.
func (b *Builder) WithStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

// WithTenantProvisioner enables Register without an explicit tenant.
func (b *Builder) WithTenantProvisioner(p TenantProvisioner) *Builder {
	b.tenants = p
	return b
}

// WithNotifier adds a notifier. Events fan out to every notifier in order.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	if n != nil {
		b.notifiers = append(b.notifiers, n)
	}
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for token issuance, TOTP and record timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithTokenSigner(s TokenSigner) *Builder {
	b.signer = s
	return b
}

func (b *Builder) WithTOTPEngine(t TotpEngine) *Builder {
	b.totp = t
	return b
}

func (b *Builder) WithSecretCipher(c SecretCipher) *Builder {
	b.cipher = c
	return b
}

func (b *Builder) WithPasswordHasher(h PasswordHasher) *Builder {
	b.hasher = h
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and constructs the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("credential store required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	signer := b.signer
	if signer == nil {
		if err := cfg.validateSigningKeys(); err != nil {
			return nil, err
		}
		m, err := jwt.NewManager(jwt.Config{
			SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
			PrivateKey:    cfg.JWT.PrivateKey,
			PublicKey:     cfg.JWT.PublicKey,
			KeyID:         cfg.JWT.KeyID,
			Issuer:        cfg.JWT.Issuer,
			Audience:      cfg.JWT.Audience,
			Leeway:        cfg.JWT.Leeway,
			Now:           now,
		})
		if err != nil {
			return nil, err
		}
		signer = m
	}

	totpEngine := b.totp
	if totpEngine == nil {
		t, err := totp.New(totp.Config{
			Digits: cfg.TOTP.Digits,
			Period: cfg.TOTP.Period,
			Skew:   cfg.TOTP.Skew,
			QRSize: cfg.TOTP.QRSize,
			Now:    now,
		})
		if err != nil {
			return nil, err
		}
		totpEngine = t
	}

	cipher := b.cipher
	if cipher == nil {
		if err := cfg.validateCipherKey(); err != nil {
			return nil, err
		}
		c, err := secret.NewAESGCM(cfg.Cipher.Key, "")
		if err != nil {
			return nil, err
		}
		cipher = c
	}

	hasher := b.hasher
	if hasher == nil {
		h, err := password.NewHasher(password.Config{
			Memory:           cfg.Password.Memory,
			Time:             cfg.Password.Time,
			Parallelism:      cfg.Password.Parallelism,
			SaltLength:       cfg.Password.SaltLength,
			KeyLength:        cfg.Password.KeyLength,
			MaxPasswordBytes: cfg.Password.MaxLength,
		})
		if err != nil {
			return nil, err
		}
		hasher = h
	}

	sinks := make([]audit.Sink, 0, len(b.notifiers))
	for _, n := range b.notifiers {
		sinks = append(sinks, notifierSink{n})
	}
	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sinks...)

	b.built = true

	return &Engine{
		config:  cfg,
		store:   b.store,
		tenants: b.tenants,
		signer:  signer,
		totp:    totpEngine,
		cipher:  cipher,
		hasher:  hasher,
		audit:   dispatcher,
		metrics: NewMetrics(cfg.Metrics),
		logger:  logger,
		now:     now,
	}, nil
}
