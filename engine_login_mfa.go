package stampauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/stampauth/credential"
	"github.com/MrEthical07/stampauth/jwt"
)

// VerifyMfaLogin completes a login that Login answered with an MFA challenge.
// Nothing is issued unless the TOTP code is valid for the stored secret.
func (e *Engine) VerifyMfaLogin(ctx context.Context, mfaToken, code string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	res, tenantID, userID, err := e.verifyMfaLogin(ctx, mfaToken, code)
	if err != nil {
		e.metricInc(MetricMFALoginFailure)
		e.emit(ctx, EventMFALoginFailure, false, eventFields{tenantID: tenantID, userID: userID, err: err})
		return nil, err
	}
	e.metricInc(MetricMFALoginSuccess)
	e.emit(ctx, EventMFALoginSuccess, true, eventFields{tenantID: tenantID, userID: userID})
	return res, nil
}

func (e *Engine) verifyMfaLogin(ctx context.Context, mfaToken, code string) (*LoginResult, string, string, error) {
	claims, err := e.verifyToken(mfaToken, jwt.TypeMFATemp)
	if err != nil || !claims.MFATemp {
		return nil, "", "", ErrMFATokenInvalid
	}

	rec, err := e.store.GetByID(ctx, claims.TenantID, claims.Subject)
	if isNotFound(err) {
		return nil, claims.TenantID, claims.Subject, ErrMFATokenInvalid
	}
	if err != nil {
		return nil, claims.TenantID, claims.Subject, fmt.Errorf("lookup credential: %w", err)
	}
	if MFAStateOf(rec) != MFAEnabled {
		return nil, rec.TenantID, rec.ID, ErrMFANotEnabled
	}
	if err := e.loginAllowed(rec); err != nil {
		return nil, rec.TenantID, rec.ID, err
	}

	step, ok, err := e.verifyStoredCode(rec, code)
	if err != nil {
		return nil, rec.TenantID, rec.ID, err
	}
	if !ok || e.replayed(rec, step) {
		return nil, rec.TenantID, rec.ID, ErrMFALoginFailed
	}
	if err := e.spendStep(ctx, rec, step); err != nil {
		return nil, rec.TenantID, rec.ID, err
	}

	sess, err := e.issueSession(ctx, rec)
	if err != nil {
		return nil, rec.TenantID, rec.ID, err
	}
	return directLogin(sess), rec.TenantID, rec.ID, nil
}

// spendStep records step as used without rotating the stamp. The write is
// conditional on both the stamp and the stored step, so of two concurrent
// logins with one code only the first gets through.
func (e *Engine) spendStep(ctx context.Context, rec *Record, step int64) error {
	next := e.nextStep(rec, step)
	if next == nil {
		return nil
	}
	_, err := e.store.Update(ctx, rec.TenantID, rec.ID, Patch{
		TOTPLastUsedStep: next,
		IfStamp:          rec.SecurityStamp,
	})
	switch {
	case err == nil:
		rec.TOTPLastUsedStep = step
		return nil
	case errors.Is(err, credential.ErrTOTPStepUsed):
		return ErrMFALoginFailed
	case errors.Is(err, credential.ErrStampConflict):
		// The stamp moved after the challenge was checked.
		e.metricInc(MetricStampConflict)
		return ErrMFATokenInvalid
	default:
		return e.updateErr(err)
	}
}
