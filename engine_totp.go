package stampauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/stampauth/credential"
)

// SetupMfa starts TOTP enrollment. It stores the encrypted secret with MFA
// still disabled and returns the plaintext secret and QR code exactly once.
// Calling it again while enrollment is pending replaces the secret.
func (e *Engine) SetupMfa(ctx context.Context, tenantID, userID string) (*MFASetup, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	rec, err := e.loadUser(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if rec.MFAEnabled {
		e.mfaSetupFailed(ctx, rec, ErrMFAAlreadyEnabled)
		return nil, ErrMFAAlreadyEnabled
	}

	secret, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	uri, err := e.totp.BuildEnrollmentURI(secret, e.config.TOTP.Issuer, rec.Email)
	if err != nil {
		return nil, fmt.Errorf("build enrollment uri: %w", err)
	}
	qr, err := e.totp.QRCode(uri)
	if err != nil {
		return nil, fmt.Errorf("render qr code: %w", err)
	}
	encrypted, err := e.cipher.Encrypt(secret)
	if err != nil {
		return nil, fmt.Errorf("encrypt totp secret: %w", err)
	}

	// Conditional on the stamp so a concurrent VerifyMfaSetup, which rotates
	// it, cannot be overwritten back to disabled.
	_, err = e.store.Update(ctx, rec.TenantID, rec.ID, Patch{
		MFASecretEncrypted: &encrypted,
		MFAEnabled:         credential.Ptr(false),
		IfStamp:            rec.SecurityStamp,
	})
	if err != nil {
		return nil, e.updateErr(err)
	}

	e.metricInc(MetricMFASetupStarted)
	e.emit(ctx, EventMFASetupStarted, true, eventFields{tenantID: rec.TenantID, userID: rec.ID})

	return &MFASetup{
		Secret:     secret,
		OtpauthURL: uri,
		QRCode:     qr,
	}, nil
}

// VerifyMfaSetup confirms enrollment with a code from the authenticator app.
// Success enables MFA and rotates the stamp, revoking every token issued
// before activation. A wrong code leaves enrollment pending.
func (e *Engine) VerifyMfaSetup(ctx context.Context, tenantID, userID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	rec, err := e.loadUser(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	switch MFAStateOf(rec) {
	case MFAEnabled:
		e.mfaSetupFailed(ctx, rec, ErrMFAAlreadyEnabled)
		return ErrMFAAlreadyEnabled
	case MFANotSetup:
		e.mfaSetupFailed(ctx, rec, ErrMFANotInitiated)
		return ErrMFANotInitiated
	}

	step, ok, err := e.verifyStoredCode(rec, code)
	if err != nil {
		return err
	}
	if !ok {
		e.mfaSetupFailed(ctx, rec, ErrInvalidMFACode)
		return ErrInvalidMFACode
	}

	// The enrollment code counts as used so it cannot also complete a login.
	verified := rec.MFASecretEncrypted
	_, err = e.rotateWithRetry(ctx, rec, func(cur *Record) (Patch, error) {
		if cur.MFAEnabled {
			return Patch{}, ErrMFAAlreadyEnabled
		}
		if cur.MFASecretEncrypted != verified {
			return Patch{}, ErrConcurrentUpdate
		}
		return Patch{
			MFAEnabled:         credential.Ptr(true),
			MFASecretEncrypted: &verified,
			TOTPLastUsedStep:   e.nextStep(cur, step),
		}, nil
	})
	if err != nil {
		e.mfaSetupFailed(ctx, rec, err)
		return err
	}

	e.metricInc(MetricMFAEnabled)
	e.emit(ctx, EventMFAEnabled, true, eventFields{tenantID: rec.TenantID, userID: rec.ID})
	return nil
}

// DisableMfa turns MFA off after re-checking the password and, when MFA is
// enabled, a current code. It clears the secret and rotates the stamp.
// A pending enrollment can be cancelled with the password alone.
func (e *Engine) DisableMfa(ctx context.Context, tenantID, userID string, req DisableMfaRequest) error {
	if e == nil {
		return ErrEngineNotReady
	}

	rec, err := e.loadUser(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if !e.checkPassword(ctx, rec, req.Password) {
		if !rec.HasPassword() {
			e.hasher.VerifyDummy(req.Password)
		}
		e.mfaDisableFailed(ctx, rec, ErrInvalidCredentials)
		return ErrInvalidCredentials
	}

	state := MFAStateOf(rec)
	var step int64
	switch state {
	case MFANotSetup:
		e.mfaDisableFailed(ctx, rec, ErrMFAAlreadyDisabled)
		return ErrMFAAlreadyDisabled
	case MFAEnabled:
		var ok bool
		step, ok, err = e.verifyStoredCode(rec, req.Code)
		if err != nil {
			return err
		}
		if !ok || e.replayed(rec, step) {
			e.mfaDisableFailed(ctx, rec, ErrInvalidMFACode)
			return ErrInvalidMFACode
		}
	}

	_, err = e.rotateWithRetry(ctx, rec, func(cur *Record) (Patch, error) {
		if MFAStateOf(cur) != state {
			return Patch{}, ErrConcurrentUpdate
		}
		patch := Patch{MFAEnabled: credential.Ptr(false), MFASecretEncrypted: credential.Ptr("")}
		if state == MFAEnabled {
			if e.replayed(cur, step) {
				return Patch{}, ErrInvalidMFACode
			}
			patch.TOTPLastUsedStep = e.nextStep(cur, step)
		}
		return patch, nil
	})
	if errors.Is(err, credential.ErrTOTPStepUsed) {
		err = ErrInvalidMFACode
	}
	if err != nil {
		e.mfaDisableFailed(ctx, rec, err)
		return err
	}

	e.metricInc(MetricMFADisabled)
	e.emit(ctx, EventMFADisabled, true, eventFields{tenantID: rec.TenantID, userID: rec.ID})
	return nil
}

// verifyStoredCode decrypts rec's secret just long enough to check code and
// returns the time step the code matched.
func (e *Engine) verifyStoredCode(rec *Record, code string) (int64, bool, error) {
	if code == "" || rec.MFASecretEncrypted == "" {
		return 0, false, nil
	}
	secret, err := e.cipher.Decrypt(rec.MFASecretEncrypted)
	if err != nil {
		return 0, false, fmt.Errorf("decrypt totp secret: %w", err)
	}
	step, ok := e.totp.Validate(code, secret)
	return step, ok, nil
}

// replayed reports whether step was already spent on rec.
func (e *Engine) replayed(rec *Record, step int64) bool {
	return e.config.TOTP.EnforceReplayProtection && step <= rec.TOTPLastUsedStep
}

// nextStep is the TOTPLastUsedStep patch value for accepting step, or nil
// when nothing needs recording.
func (e *Engine) nextStep(rec *Record, step int64) *int64 {
	if !e.config.TOTP.EnforceReplayProtection || step <= rec.TOTPLastUsedStep {
		return nil
	}
	return &step
}

func (e *Engine) loadUser(ctx context.Context, tenantID, userID string) (*Record, error) {
	rec, err := e.store.GetByID(ctx, tenantID, userID)
	if isNotFound(err) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup credential: %w", err)
	}
	return rec, nil
}

func (e *Engine) mfaSetupFailed(ctx context.Context, rec *Record, err error) {
	e.metricInc(MetricMFASetupFailure)
	e.emit(ctx, EventMFASetupFailure, false, eventFields{tenantID: rec.TenantID, userID: rec.ID, err: err})
}

func (e *Engine) mfaDisableFailed(ctx context.Context, rec *Record, err error) {
	e.metricInc(MetricMFADisableFailure)
	e.emit(ctx, EventMFADisableFailure, false, eventFields{tenantID: rec.TenantID, userID: rec.ID, err: err})
}

// updateErr maps a failed conditional write that does not rotate the stamp.
func (e *Engine) updateErr(err error) error {
	switch {
	case errors.Is(err, credential.ErrStampConflict):
		e.metricInc(MetricStampConflict)
		return ErrConcurrentUpdate
	case isNotFound(err):
		return ErrUserNotFound
	default:
		return fmt.Errorf("update credential: %w", err)
	}
}
