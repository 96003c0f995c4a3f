package stampauth

import (
	"context"
	"errors"
	"testing"
)

func register(t *testing.T, env *testEnv, email string) (*RegisterResult, string) {
	t.Helper()
	res, err := env.engine.Register(context.Background(), RegisterRequest{
		TenantID: testTenant,
		Email:    email,
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return res, env.notes.linkToken(t, EventEmailVerificationRequested)
}

func TestVerifyEmailActivatesAccount(t *testing.T) {
	env := newTestEnv(t)
	res, token := register(t, env, "new@example.com")
	ctx := context.Background()

	user, ok, err := env.engine.ValidateCredentials(ctx, testTenant, "new@example.com", testPassword)
	if err != nil || !ok {
		t.Fatalf("validate: ok=%v err=%v", ok, err)
	}
	if _, err := env.engine.Login(ctx, user); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("unverified login: expected ErrAccountInactive, got %v", err)
	}

	if err := env.engine.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("verify email: %v", err)
	}
	rec := env.record(t, res.User.ID)
	if rec.Status != StatusActive || rec.EmailVerifiedAt == nil || !rec.EmailVerifiedAt.Equal(env.clock.Now()) {
		t.Fatalf("expected active verified record, got %+v", rec)
	}
	env.session(t, "new@example.com")
}

func TestVerifyEmailTokenIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	_, token := register(t, env, "new@example.com")

	if err := env.engine.VerifyEmail(context.Background(), token); err != nil {
		t.Fatal(err)
	}
	if err := env.engine.VerifyEmail(context.Background(), token); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked on reuse, got %v", err)
	}
}

func TestVerifyEmailKeepsDisabledAccountDisabled(t *testing.T) {
	env := newTestEnv(t)
	rec := env.seedUser(t, "off@example.com", func(r *Record) {
		r.Status = StatusDisabled
		r.EmailVerifiedAt = nil
	})
	if err := env.engine.RequestEmailVerification(context.Background(), testTenant, "off@example.com"); err != nil {
		t.Fatal(err)
	}
	token := env.notes.linkToken(t, EventEmailVerificationRequested)

	if err := env.engine.VerifyEmail(context.Background(), token); err != nil {
		t.Fatal(err)
	}
	got := env.record(t, rec.ID)
	if got.Status != StatusDisabled || got.EmailVerifiedAt == nil {
		t.Fatalf("expected disabled but verified, got %+v", got)
	}
}

func TestVerifyEmailRejectsRecoveryToken(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "user@x.com")
	token := requestReset(t, env, "user@x.com")

	if err := env.engine.VerifyEmail(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRequestEmailVerification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	register(t, env, "new@example.com")
	env.seedUser(t, "done@example.com")

	if err := env.engine.RequestEmailVerification(ctx, testTenant, "new@example.com"); err != nil {
		t.Fatalf("resend: %v", err)
	}
	token := env.notes.linkToken(t, EventEmailVerificationRequested)
	if err := env.engine.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("verify resent token: %v", err)
	}

	if err := env.engine.RequestEmailVerification(ctx, testTenant, "done@example.com"); !errors.Is(err, ErrEmailAlreadyVerified) {
		t.Fatalf("expected ErrEmailAlreadyVerified, got %v", err)
	}
	if err := env.engine.RequestEmailVerification(ctx, testTenant, "ghost@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
