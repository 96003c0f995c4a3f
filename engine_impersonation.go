package stampauth

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrEthical07/stampauth/jwt"
)

// Impersonate mints a short-lived token that lets req.ActorID act as
// req.TargetID. The caller decides whether the actor is allowed to; the
// engine only records who, whom and why.
//
// Impersonation tokens carry no security stamp. They stay valid until they
// expire even if the target logs out.
func (e *Engine) Impersonate(ctx context.Context, req ImpersonateRequest) (*ImpersonationResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, ErrImpersonationReason
	}
	if req.ActorID == "" || req.ActorID == req.TargetID {
		return nil, ErrSelfImpersonation
	}

	target, err := e.loadUser(ctx, req.TenantID, req.TargetID)
	if err != nil {
		return nil, err
	}

	ttl := e.config.Tokens.ImpersonationTTL
	token, err := e.signer.Sign(Claims{
		Type:                jwt.TypeImpersonation,
		TenantID:            target.TenantID,
		Email:               target.Email,
		RoleID:              target.RoleID,
		ImpersonatedBy:      req.ActorID,
		ImpersonationReason: reason,
		RegisteredClaims:    subject(target.ID),
	}, ttl)
	if err != nil {
		return nil, fmt.Errorf("sign impersonation token: %w", err)
	}

	e.metricInc(MetricImpersonationStarted)
	e.emit(ctx, EventImpersonationStarted, true, eventFields{
		tenantID: target.TenantID,
		userID:   target.ID,
		actorID:  req.ActorID,
		metadata: map[string]string{"reason": reason},
	})

	return &ImpersonationResult{
		Token:          token,
		ExpiresAt:      e.now().Add(ttl),
		ImpersonatedBy: req.ActorID,
		User:           sanitize(target),
	}, nil
}

// EndImpersonate records the end of an impersonation. The token itself is not
// revoked and lapses at its expiry.
func (e *Engine) EndImpersonate(ctx context.Context, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	e.metricInc(MetricImpersonationEnded)
	e.emit(ctx, EventImpersonationEnded, true, eventFields{userID: userID})
	return nil
}
