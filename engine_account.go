package stampauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/MrEthical07/stampauth/credential"
	"github.com/MrEthical07/stampauth/internal"
)

// Register creates a password account in PENDING_VERIFICATION and sends a
// verification link. A tenant is provisioned when req.TenantID is empty and a
// TenantProvisioner is configured.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	email := credential.NormalizeEmail(req.Email)
	if !validEmail(email) {
		return nil, ErrInvalidEmail
	}
	if err := e.passwordPolicy(req.Password); err != nil {
		return nil, err
	}

	tenantID, err := e.resolveTenant(ctx, req.TenantID, req.TenantName)
	if err != nil {
		return nil, err
	}

	_, err = e.store.GetByEmail(ctx, tenantID, email)
	switch {
	case err == nil:
		e.metricInc(MetricAccountCreationDuplicate)
		return nil, ErrAccountExists
	case !isNotFound(err):
		return nil, fmt.Errorf("lookup credential: %w", err)
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	role := req.RoleID
	if role == "" {
		role = e.config.Account.DefaultRoleID
	}

	rec, err := e.createRecord(ctx, Record{
		TenantID:     tenantID,
		Email:        email,
		PasswordHash: hash,
		Status:       StatusPendingVerification,
		RoleID:       role,
	})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricAccountCreationSuccess)
	e.emit(ctx, EventRegisterSuccess, true, eventFields{tenantID: rec.TenantID, userID: rec.ID})
	// The account exists either way; RequestEmailVerification sends a new link.
	if err := e.sendVerification(ctx, rec); err != nil {
		e.logger.LogAttrs(ctx, slog.LevelWarn, "verification link not sent",
			slog.String("tenant_id", rec.TenantID),
			slog.String("user_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}

	return &RegisterResult{User: sanitize(rec), VerificationRequired: true}, nil
}

// ChangePassword replaces the password of a signed-in user and rotates the
// stamp, which signs out every other session.
func (e *Engine) ChangePassword(ctx context.Context, tenantID, userID, oldPassword, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	err := e.changePassword(ctx, tenantID, userID, oldPassword, newPassword)
	if err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		return err
	}
	e.metricInc(MetricPasswordChangeSuccess)
	e.emit(ctx, EventPasswordChanged, true, eventFields{tenantID: tenantID, userID: userID})
	return nil
}

func (e *Engine) changePassword(ctx context.Context, tenantID, userID, oldPassword, newPassword string) error {
	rec, err := e.loadUser(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if !e.checkPassword(ctx, rec, oldPassword) {
		if !rec.HasPassword() {
			e.hasher.VerifyDummy(oldPassword)
		}
		return ErrInvalidCredentials
	}
	if oldPassword == newPassword {
		return ErrPasswordReuse
	}
	if err := e.passwordPolicy(newPassword); err != nil {
		return err
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	verifiedHash := rec.PasswordHash
	_, err = e.rotateWithRetry(ctx, rec, func(cur *Record) (Patch, error) {
		// The old password was checked against verifiedHash only.
		if cur.PasswordHash != verifiedHash {
			return Patch{}, ErrConcurrentUpdate
		}
		return Patch{PasswordHash: &hash}, nil
	})
	return err
}

// SocialLogin signs in with an externally verified Google profile. An
// existing account is linked on first use and keeps its password, so it
// can sign in either way from then on; an unknown email gets a new ACTIVE
// account. The result follows the same MFA rules as Login.
func (e *Engine) SocialLogin(ctx context.Context, tenantID string, profile GoogleProfile) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if strings.TrimSpace(tenantID) == "" {
		return nil, ErrTenantRequired
	}
	email := credential.NormalizeEmail(profile.Email)
	if profile.ID == "" || !validEmail(email) {
		return nil, ErrInvalidCredentials
	}

	rec, err := e.store.GetByEmail(ctx, tenantID, email)
	switch {
	case isNotFound(err):
		now := e.now()
		rec, err = e.createRecord(ctx, Record{
			TenantID:        tenantID,
			Email:           email,
			GoogleID:        profile.ID,
			Status:          StatusActive,
			EmailVerifiedAt: &now,
			RoleID:          e.config.Account.DefaultRoleID,
		})
		if err != nil {
			return nil, err
		}
		e.emit(ctx, EventSocialAccountCreated, true, eventFields{tenantID: rec.TenantID, userID: rec.ID})
	case err != nil:
		return nil, fmt.Errorf("lookup credential: %w", err)
	case rec.GoogleID == "":
		rec, err = e.store.Update(ctx, rec.TenantID, rec.ID, Patch{
			GoogleID: &profile.ID,
			IfStamp:  rec.SecurityStamp,
		})
		if err != nil {
			return nil, e.updateErr(err)
		}
		e.emit(ctx, EventSocialLoginLinked, true, eventFields{tenantID: rec.TenantID, userID: rec.ID})
	case rec.GoogleID != profile.ID:
		e.loginFailed(ctx, rec.TenantID, rec.ID)
		return nil, ErrGoogleAccountMismatch
	}

	e.metricInc(MetricSocialLogin)
	return e.Login(ctx, sanitize(rec))
}

func (e *Engine) resolveTenant(ctx context.Context, tenantID, tenantName string) (string, error) {
	if id := strings.TrimSpace(tenantID); id != "" {
		return id, nil
	}
	if e.tenants == nil || strings.TrimSpace(tenantName) == "" {
		return "", ErrTenantRequired
	}
	id, err := e.tenants.CreateTenant(ctx, strings.TrimSpace(tenantName))
	if err != nil {
		return "", fmt.Errorf("create tenant: %w", err)
	}
	return id, nil
}

// createRecord fills identity and stamp and persists rec. A duplicate email
// that slipped past the lookup surfaces as ErrAccountExists.
func (e *Engine) createRecord(ctx context.Context, rec Record) (*Record, error) {
	stamp, err := internal.NewSecurityStamp()
	if err != nil {
		return nil, fmt.Errorf("generate security stamp: %w", err)
	}
	now := e.now()
	rec.ID = uuid.NewString()
	rec.SecurityStamp = stamp
	rec.CreatedAt = now
	rec.UpdatedAt = now

	created, err := e.store.Create(ctx, rec.TenantID, rec)
	if errors.Is(err, credential.ErrDuplicateEmail) {
		e.metricInc(MetricAccountCreationDuplicate)
		return nil, ErrAccountExists
	}
	if err != nil {
		return nil, fmt.Errorf("create credential: %w", err)
	}
	return created, nil
}

func validEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}
