package stampauth

import (
	"context"
	"log/slog"

	"github.com/MrEthical07/stampauth/internal/audit"
)

// Event names handed to Notifier.Emit.
const (
	EventLoginSuccess               = "login_success"
	EventLoginFailure               = "login_failure"
	EventLoginMFARequired           = "login_mfa_required"
	EventMFALoginSuccess            = "mfa_login_success"
	EventMFALoginFailure            = "mfa_login_failure"
	EventRefreshSuccess             = "refresh_success"
	EventRefreshFailure             = "refresh_failure"
	EventRegisterSuccess            = "register_success"
	EventMFASetupStarted            = "mfa_setup_started"
	EventMFAEnabled                 = "mfa_enabled"
	EventMFASetupFailure            = "mfa_setup_failure"
	EventMFADisabled                = "mfa_disabled"
	EventMFADisableFailure          = "mfa_disable_failure"
	EventPasswordResetRequested     = "password_reset_requested"
	EventPasswordResetCompleted     = "password_reset_completed"
	EventPasswordResetFailure       = "password_reset_failure"
	EventPasswordChanged            = "password_changed"
	EventEmailVerificationRequested = "email_verification_requested"
	EventEmailVerified              = "email_verified"
	EventEmailVerificationFailure   = "email_verification_failure"
	EventImpersonationStarted       = "impersonation_started"
	EventImpersonationEnded         = "impersonation_ended"
	EventSocialLoginLinked          = "social_login_linked"
	EventSocialAccountCreated       = "social_account_created"
	EventLogout                     = "logout"
	EventAccountStatusChanged       = "account_status_changed"
)

// LinkKey is the payload key holding a one-time recovery or verification URL.
// Log-oriented notifiers must not record it.
const LinkKey = audit.LinkKey

// notifierSink adapts a Notifier to the dispatcher.
type notifierSink struct {
	notifier Notifier
}

func (s notifierSink) Emit(ctx context.Context, event audit.Event) {
	s.notifier.Emit(ctx, event.Name, event.Payload())
}

type eventFields struct {
	tenantID string
	userID   string
	actorID  string
	err      error
	metadata map[string]string
}

func (e *Engine) emit(ctx context.Context, name string, success bool, f eventFields) {
	if e == nil {
		return
	}
	ev := audit.Event{
		Timestamp: e.now(),
		Name:      name,
		TenantID:  f.tenantID,
		UserID:    f.userID,
		ActorID:   f.actorID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  f.metadata,
	}
	if f.err != nil {
		ev.Error = Kind(f.err).String()
	}

	level := slog.LevelInfo
	if !success {
		level = slog.LevelWarn
	}
	e.logger.LogAttrs(ctx, level, "auth event",
		slog.String("event", name),
		slog.String("tenant_id", f.tenantID),
		slog.String("user_id", f.userID),
		slog.Bool("success", success),
	)

	e.audit.Emit(ctx, ev)
}

// NotifierDropped reports events discarded because the dispatcher buffer was full.
func (e *Engine) NotifierDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}
