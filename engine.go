package stampauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"

	"github.com/MrEthical07/stampauth/credential"
	"github.com/MrEthical07/stampauth/internal"
	"github.com/MrEthical07/stampauth/internal/audit"
	"github.com/MrEthical07/stampauth/jwt"
)

// Engine is the credential and session security core. It holds no mutable
// per-request state and is safe for concurrent use once built.
type Engine struct {
	config  Config
	store   CredentialStore
	tenants TenantProvisioner
	signer  TokenSigner
	totp    TotpEngine
	cipher  SecretCipher
	hasher  PasswordHasher
	audit   *audit.Dispatcher
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Close flushes pending notifier events and stops the dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// MetricsSnapshot returns the current counter values.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return emptySnapshot()
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// ValidateCredentials checks email and password within a tenant. A wrong
// password and an unknown email both yield (nil, false, nil); only store
// failures are returned as errors.
func (e *Engine) ValidateCredentials(ctx context.Context, tenantID, email, password string) (*User, bool, error) {
	if e == nil {
		return nil, false, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	rec, err := e.store.GetByEmail(ctx, tenantID, credential.NormalizeEmail(email))
	if isNotFound(err) {
		e.hasher.VerifyDummy(password)
		e.loginFailed(ctx, tenantID, "")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup credential: %w", err)
	}
	if !rec.HasPassword() {
		e.hasher.VerifyDummy(password)
		e.loginFailed(ctx, tenantID, rec.ID)
		return nil, false, nil
	}

	if !e.checkPassword(ctx, rec, password) {
		e.recordFailedAttempt(ctx, rec)
		e.loginFailed(ctx, tenantID, rec.ID)
		return nil, false, nil
	}

	if e.config.Password.UpgradeOnLogin && e.hasher.NeedsUpgrade(rec.PasswordHash) {
		e.upgradeHash(ctx, rec, password)
	}

	return sanitize(rec), true, nil
}

// Login turns a validated user into either a session or, when MFA is
// enabled, a short-lived MFA challenge token. It never returns session
// tokens for an MFA-enabled account.
func (e *Engine) Login(ctx context.Context, user *User) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}

	rec, err := e.store.GetByID(ctx, user.TenantID, user.ID)
	if isNotFound(err) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("lookup credential: %w", err)
	}
	if err := e.loginAllowed(rec); err != nil {
		e.loginFailed(ctx, rec.TenantID, rec.ID)
		return nil, err
	}

	if rec.MFAEnabled {
		token, err := e.signer.Sign(Claims{
			Type:             jwt.TypeMFATemp,
			TenantID:         rec.TenantID,
			Email:            rec.Email,
			RoleID:           rec.RoleID,
			MFATemp:          true,
			RegisteredClaims: subject(rec.ID),
		}, e.config.Tokens.MFATempTTL)
		if err != nil {
			return nil, fmt.Errorf("sign mfa token: %w", err)
		}
		e.metricInc(MetricLoginMFARequired)
		e.emit(ctx, EventLoginMFARequired, true, eventFields{tenantID: rec.TenantID, userID: rec.ID})
		return mfaChallenge(token), nil
	}

	sess, err := e.issueSession(ctx, rec)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	e.emit(ctx, EventLoginSuccess, true, eventFields{tenantID: rec.TenantID, userID: rec.ID})
	return directLogin(sess), nil
}

// RefreshSession exchanges a refresh token for a new pair bound to the
// current security stamp.
func (e *Engine) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	sess, tenantID, userID, err := e.refresh(ctx, refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		if errors.Is(err, ErrTokenRevoked) {
			e.metricInc(MetricRefreshRevoked)
		}
		e.emit(ctx, EventRefreshFailure, false, eventFields{tenantID: tenantID, userID: userID, err: err})
		return nil, err
	}
	e.metricInc(MetricRefreshSuccess)
	e.emit(ctx, EventRefreshSuccess, true, eventFields{tenantID: tenantID, userID: userID})
	return sess, nil
}

func (e *Engine) refresh(ctx context.Context, refreshToken string) (*Session, string, string, error) {
	claims, err := e.verifyToken(refreshToken, jwt.TypeRefresh)
	if err != nil {
		return nil, "", "", err
	}

	rec, err := e.store.GetByEmail(ctx, claims.TenantID, claims.Email)
	if isNotFound(err) {
		return nil, claims.TenantID, claims.Subject, ErrInvalidToken
	}
	if err != nil {
		return nil, claims.TenantID, claims.Subject, fmt.Errorf("lookup credential: %w", err)
	}
	if rec.ID != claims.Subject {
		return nil, rec.TenantID, claims.Subject, ErrInvalidToken
	}
	if rec.Status != StatusActive {
		return nil, rec.TenantID, rec.ID, ErrAccountInactive
	}
	if !stampMatches(claims, rec) {
		return nil, rec.TenantID, rec.ID, ErrTokenRevoked
	}

	sess, err := e.issueSession(ctx, rec)
	if err != nil {
		return nil, rec.TenantID, rec.ID, err
	}
	return sess, rec.TenantID, rec.ID, nil
}

// Authenticate resolves a bearer token to a principal. Access tokens are
// checked against the live record; impersonation tokens rely on signature
// and their short lifetime.
func (e *Engine) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	p, err := e.authenticate(ctx, token)
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		return nil, err
	}
	e.metricInc(MetricAuthenticateSuccess)
	return p, nil
}

func (e *Engine) authenticate(ctx context.Context, token string) (*Principal, error) {
	claims, err := e.signer.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid or expired token", ErrUnauthenticated)
	}

	p := &Principal{
		UserID:    claims.Subject,
		TenantID:  claims.TenantID,
		Email:     claims.Email,
		RoleID:    claims.RoleID,
		TokenType: claims.Type,
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}

	switch claims.Type {
	case jwt.TypeAccess:
		rec, err := e.store.GetByID(ctx, claims.TenantID, claims.Subject)
		if isNotFound(err) {
			return nil, ErrTokenRevoked
		}
		if err != nil {
			return nil, fmt.Errorf("lookup credential: %w", err)
		}
		if err := e.loginAllowed(rec); err != nil {
			return nil, err
		}
		if !stampMatches(claims, rec) {
			return nil, ErrTokenRevoked
		}
		p.Email = rec.Email
		p.RoleID = rec.RoleID
		return p, nil
	case jwt.TypeImpersonation:
		if claims.ImpersonatedBy == "" {
			return nil, fmt.Errorf("%w: invalid or expired token", ErrUnauthenticated)
		}
		p.ImpersonatedBy = claims.ImpersonatedBy
		p.ImpersonationReason = claims.ImpersonationReason
		return p, nil
	default:
		return nil, fmt.Errorf("%w: token type not accepted", ErrUnauthenticated)
	}
}

// Logout rotates the security stamp, which revokes every access and refresh
// token issued to the user on any device.
func (e *Engine) Logout(ctx context.Context, tenantID, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	rec, err := e.store.GetByID(ctx, tenantID, userID)
	if isNotFound(err) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup credential: %w", err)
	}

	_, err = e.rotateWithRetry(ctx, rec, func(*Record) (Patch, error) { return Patch{}, nil })
	// A second conflict means someone else rotated the stamp, which revokes
	// the same tokens.
	if err != nil && !errors.Is(err, ErrConcurrentUpdate) {
		return err
	}

	e.metricInc(MetricLogout)
	e.emit(ctx, EventLogout, true, eventFields{tenantID: tenantID, userID: userID})
	return nil
}

func (e *Engine) loginAllowed(rec *Record) error {
	switch rec.Status {
	case StatusActive:
		return nil
	case StatusPendingVerification:
		if !e.config.Account.RequireVerifiedEmail {
			return nil
		}
	}
	return ErrAccountInactive
}

func (e *Engine) loginFailed(ctx context.Context, tenantID, userID string) {
	e.metricInc(MetricLoginFailure)
	e.emit(ctx, EventLoginFailure, false, eventFields{tenantID: tenantID, userID: userID, err: ErrInvalidCredentials})
}

// issueSession resets the failed-attempt counter if needed and mints an
// access/refresh pair bound to rec's current stamp.
func (e *Engine) issueSession(ctx context.Context, rec *Record) (*Session, error) {
	if rec.FailedLoginAttempts > 0 {
		if err := e.store.ResetFailedAttempts(ctx, rec.TenantID, rec.ID); err != nil {
			return nil, fmt.Errorf("reset failed attempts: %w", err)
		}
	}

	base := Claims{
		TenantID:         rec.TenantID,
		Email:            rec.Email,
		RoleID:           rec.RoleID,
		SecurityStamp:    rec.SecurityStamp,
		RegisteredClaims: subject(rec.ID),
	}
	now := e.now()

	access := base
	access.Type = jwt.TypeAccess
	accessToken, err := e.signer.Sign(access, e.config.Tokens.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh := base
	refresh.Type = jwt.TypeRefresh
	refreshToken, err := e.signer.Sign(refresh, e.config.Tokens.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &Session{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  now.Add(e.config.Tokens.AccessTTL),
		RefreshExpiresAt: now.Add(e.config.Tokens.RefreshTTL),
		User:             sanitize(rec),
		LandingPageRoute: e.config.landingRoute(rec.RoleID),
	}, nil
}

// verifyToken checks signature, expiry and type. Every failure collapses to
// ErrInvalidToken.
func (e *Engine) verifyToken(token string, want jwt.TokenType) (*Claims, error) {
	claims, err := e.signer.Verify(token)
	if err != nil || claims.Type != want {
		return nil, ErrInvalidToken
	}
	if want.StampChecked() && claims.SecurityStamp == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func subject(userID string) gjwt.RegisteredClaims {
	return gjwt.RegisteredClaims{Subject: userID}
}

func stampMatches(claims *Claims, rec *Record) bool {
	return claims.SecurityStamp != "" && claims.SecurityStamp == rec.SecurityStamp
}

// rotateStamp writes patch together with a fresh stamp, conditional on rec's
// current stamp. It returns credential.ErrStampConflict when the stamp moved.
func (e *Engine) rotateStamp(ctx context.Context, rec *Record, patch Patch) (*Record, error) {
	stamp, err := internal.NewSecurityStamp()
	if err != nil {
		return nil, fmt.Errorf("generate security stamp: %w", err)
	}
	patch.SecurityStamp = &stamp
	patch.IfStamp = rec.SecurityStamp

	updated, err := e.store.Update(ctx, rec.TenantID, rec.ID, patch)
	if errors.Is(err, credential.ErrStampConflict) {
		e.metricInc(MetricStampConflict)
		return nil, err
	}
	if isNotFound(err) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update credential: %w", err)
	}
	return updated, nil
}

// rotateWithRetry applies build(rec) with a stamp rotation. After one
// conflict it re-reads the record and rebuilds the patch, so build must
// re-check its preconditions. A second conflict yields ErrConcurrentUpdate.
func (e *Engine) rotateWithRetry(ctx context.Context, rec *Record, build func(*Record) (Patch, error)) (*Record, error) {
	for attempt := 0; ; attempt++ {
		patch, err := build(rec)
		if err != nil {
			return nil, err
		}
		updated, err := e.rotateStamp(ctx, rec, patch)
		if !errors.Is(err, credential.ErrStampConflict) {
			return updated, err
		}
		if attempt > 0 {
			return nil, ErrConcurrentUpdate
		}
		rec, err = e.store.GetByID(ctx, rec.TenantID, rec.ID)
		if isNotFound(err) {
			return nil, ErrUserNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("lookup credential: %w", err)
		}
	}
}

// checkPassword verifies password against rec. A malformed stored hash is
// logged and treated as a mismatch.
func (e *Engine) checkPassword(ctx context.Context, rec *Record, password string) bool {
	if !rec.HasPassword() {
		return false
	}
	ok, err := e.hasher.Verify(password, rec.PasswordHash)
	if err != nil {
		e.logger.LogAttrs(ctx, slog.LevelError, "password hash verification failed",
			slog.String("tenant_id", rec.TenantID),
			slog.String("user_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return ok
}

func (e *Engine) recordFailedAttempt(ctx context.Context, rec *Record) {
	recorder, ok := e.store.(FailedAttemptRecorder)
	if !ok {
		return
	}
	if _, err := recorder.RecordFailedAttempt(ctx, rec.TenantID, rec.ID); err != nil {
		e.logger.LogAttrs(ctx, slog.LevelWarn, "record failed attempt",
			slog.String("tenant_id", rec.TenantID),
			slog.String("user_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

// upgradeHash replaces a legacy or weak hash. The password itself is
// unchanged, so the stamp is not rotated.
func (e *Engine) upgradeHash(ctx context.Context, rec *Record, password string) {
	hash, err := e.hasher.Hash(password)
	if err == nil {
		_, err = e.store.Update(ctx, rec.TenantID, rec.ID, Patch{PasswordHash: &hash, IfStamp: rec.SecurityStamp})
	}
	if err != nil {
		e.logger.LogAttrs(ctx, slog.LevelWarn, "password rehash skipped",
			slog.String("tenant_id", rec.TenantID),
			slog.String("user_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	e.metricInc(MetricPasswordRehash)
}

func (e *Engine) passwordPolicy(password string) error {
	if len(password) < e.config.Password.MinLength || len(password) > e.config.Password.MaxLength {
		return ErrPasswordPolicy
	}
	return nil
}
