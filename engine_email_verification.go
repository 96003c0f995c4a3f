package stampauth

import (
	"context"
	"fmt"

	"github.com/MrEthical07/stampauth/credential"
	"github.com/MrEthical07/stampauth/jwt"
)

// VerifyEmail consumes a verification token. It stamps EmailVerifiedAt,
// promotes a pending account to ACTIVE and rotates the stamp. Disabled
// accounts keep their status.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	tenantID, userID, err := e.verifyEmail(ctx, token)
	if err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		e.emit(ctx, EventEmailVerificationFailure, false, eventFields{tenantID: tenantID, userID: userID, err: err})
		return err
	}
	e.metricInc(MetricEmailVerificationSuccess)
	e.emit(ctx, EventEmailVerified, true, eventFields{tenantID: tenantID, userID: userID})
	return nil
}

func (e *Engine) verifyEmail(ctx context.Context, token string) (string, string, error) {
	claims, err := e.verifyToken(token, jwt.TypeVerification)
	if err != nil {
		return "", "", err
	}
	rec, err := e.tokenRecord(ctx, claims)
	if err != nil {
		return claims.TenantID, claims.Subject, err
	}

	now := e.now()
	patch := Patch{EmailVerifiedAt: &now}
	if rec.Status == StatusPendingVerification {
		patch.Status = credential.Ptr(StatusActive)
	}
	_, err = e.rotateStamp(ctx, rec, patch)
	return rec.TenantID, rec.ID, tokenFlowErr(err)
}

// RequestEmailVerification re-sends a verification link.
func (e *Engine) RequestEmailVerification(ctx context.Context, tenantID, email string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	rec, err := e.store.GetByEmail(ctx, tenantID, credential.NormalizeEmail(email))
	if isNotFound(err) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup credential: %w", err)
	}
	if rec.EmailVerifiedAt != nil && rec.Status != StatusPendingVerification {
		return ErrEmailAlreadyVerified
	}
	return e.sendVerification(ctx, rec)
}

func (e *Engine) sendVerification(ctx context.Context, rec *Record) error {
	token, err := e.signer.Sign(Claims{
		Type:             jwt.TypeVerification,
		TenantID:         rec.TenantID,
		Email:            rec.Email,
		SecurityStamp:    rec.SecurityStamp,
		RegisteredClaims: subject(rec.ID),
	}, e.config.Tokens.VerificationTTL)
	if err != nil {
		return fmt.Errorf("sign verification token: %w", err)
	}

	e.metricInc(MetricEmailVerificationRequest)
	e.emit(ctx, EventEmailVerificationRequested, true, eventFields{
		tenantID: rec.TenantID,
		userID:   rec.ID,
		metadata: map[string]string{
			"email": rec.Email,
			LinkKey: tokenLink(e.config.Links.VerificationURL, token),
		},
	})
	return nil
}
