package stampauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/stampauth/credential"
	"github.com/MrEthical07/stampauth/jwt"
)

// RequestPasswordReset mints a recovery token bound to the current stamp and
// hands the recovery link to the notifiers. Unknown emails return
// ErrUserNotFound.
func (e *Engine) RequestPasswordReset(ctx context.Context, tenantID, email string) error {
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

	token, err := e.signer.Sign(Claims{
		Type:             jwt.TypeRecovery,
		TenantID:         rec.TenantID,
		Email:            rec.Email,
		SecurityStamp:    rec.SecurityStamp,
		RegisteredClaims: subject(rec.ID),
	}, e.config.Tokens.RecoveryTTL)
	if err != nil {
		return fmt.Errorf("sign recovery token: %w", err)
	}

	e.metricInc(MetricPasswordResetRequest)
	e.emit(ctx, EventPasswordResetRequested, true, eventFields{
		tenantID: rec.TenantID,
		userID:   rec.ID,
		metadata: map[string]string{
			"email": rec.Email,
			LinkKey: tokenLink(e.config.Links.RecoveryURL, token),
		},
	})
	return nil
}

// ResetPassword sets a new password from a recovery token. The stamp rotates
// with the new hash, so the token and every session die with it. On a
// Google-only account this adds a password next to the linked identity.
func (e *Engine) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if e == nil {
		return ErrEngineNotReady
	}

	tenantID, userID, err := e.resetPassword(ctx, req)
	if err != nil {
		e.metricInc(MetricPasswordResetFailure)
		e.emit(ctx, EventPasswordResetFailure, false, eventFields{tenantID: tenantID, userID: userID, err: err})
		return err
	}
	e.metricInc(MetricPasswordResetSuccess)
	e.emit(ctx, EventPasswordResetCompleted, true, eventFields{tenantID: tenantID, userID: userID})
	return nil
}

func (e *Engine) resetPassword(ctx context.Context, req ResetPasswordRequest) (string, string, error) {
	claims, err := e.verifyToken(req.Token, jwt.TypeRecovery)
	if err != nil {
		return "", "", err
	}
	if err := e.passwordPolicy(req.NewPassword); err != nil {
		return claims.TenantID, claims.Subject, err
	}

	rec, err := e.tokenRecord(ctx, claims)
	if err != nil {
		return claims.TenantID, claims.Subject, err
	}

	hash, err := e.hasher.Hash(req.NewPassword)
	if err != nil {
		return rec.TenantID, rec.ID, fmt.Errorf("hash password: %w", err)
	}
	_, err = e.rotateStamp(ctx, rec, Patch{
		PasswordHash:        &hash,
		FailedLoginAttempts: credential.Ptr(0),
	})
	return rec.TenantID, rec.ID, tokenFlowErr(err)
}

// tokenRecord loads the record a stamp-checked token points at and confirms
// the token is still bound to its stamp.
func (e *Engine) tokenRecord(ctx context.Context, claims *Claims) (*Record, error) {
	rec, err := e.store.GetByID(ctx, claims.TenantID, claims.Subject)
	if isNotFound(err) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("lookup credential: %w", err)
	}
	if !stampMatches(claims, rec) {
		return nil, ErrTokenRevoked
	}
	return rec, nil
}

// tokenFlowErr maps a lost stamp race in a token-driven flow to a revoked
// token. The winner already consumed the token's stamp.
func tokenFlowErr(err error) error {
	if errors.Is(err, credential.ErrStampConflict) {
		return ErrTokenRevoked
	}
	return err
}
