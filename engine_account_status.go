package stampauth

import (
	"context"

	"github.com/MrEthical07/stampauth/credential"
)

// DisableAccount marks the account DISABLED and rotates the stamp, ending
// every session. Disabled accounts cannot log in, refresh or verify their
// email into ACTIVE.
func (e *Engine) DisableAccount(ctx context.Context, tenantID, userID string) error {
	err := e.setStatus(ctx, tenantID, userID, StatusDisabled)
	if err == nil {
		e.metricInc(MetricAccountDisabled)
	}
	e.emit(ctx, EventAccountStatusChanged, err == nil, eventFields{
		tenantID: tenantID,
		userID:   userID,
		err:      err,
		metadata: map[string]string{"action": "disable"},
	})
	return err
}

// EnableAccount returns a disabled account to ACTIVE.
func (e *Engine) EnableAccount(ctx context.Context, tenantID, userID string) error {
	err := e.setStatus(ctx, tenantID, userID, StatusActive)
	if err == nil {
		e.metricInc(MetricAccountEnabled)
	}
	e.emit(ctx, EventAccountStatusChanged, err == nil, eventFields{
		tenantID: tenantID,
		userID:   userID,
		err:      err,
		metadata: map[string]string{"action": "enable"},
	})
	return err
}

func (e *Engine) setStatus(ctx context.Context, tenantID, userID string, status Status) error {
	if e == nil {
		return ErrEngineNotReady
	}
	rec, err := e.loadUser(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if rec.Status == status {
		return nil
	}
	_, err = e.rotateWithRetry(ctx, rec, func(*Record) (Patch, error) {
		return Patch{Status: credential.Ptr(status)}, nil
	})
	return err
}
