package stampauth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestImpersonateIssuesShortLivedToken(t *testing.T) {
	env := newTestEnv(t)
	target := env.seedUser(t, "alice@example.com")
	ctx := context.Background()

	res, err := env.engine.Impersonate(ctx, ImpersonateRequest{
		ActorID:  "admin-1",
		TargetID: target.ID,
		TenantID: testTenant,
		Reason:   "ticket 4411",
	})
	if err != nil {
		t.Fatalf("impersonate: %v", err)
	}
	if res.ImpersonatedBy != "admin-1" || res.User.ID != target.ID {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.ExpiresAt.Equal(env.clock.Now().Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", res.ExpiresAt)
	}

	p, err := env.engine.Authenticate(ctx, res.Token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !p.Impersonated() || p.ImpersonatedBy != "admin-1" || p.ImpersonationReason != "ticket 4411" || p.UserID != target.ID {
		t.Fatalf("unexpected principal %+v", p)
	}

	got := env.notes.waitFor(t, EventImpersonationStarted)
	if got.payload["actor_id"] != "admin-1" || got.payload["user_id"] != target.ID || got.payload["reason"] != "ticket 4411" {
		t.Fatalf("unexpected audit payload %+v", got.payload)
	}
}

func TestImpersonationTokenIsNotStampChecked(t *testing.T) {
	env := newTestEnv(t)
	target := env.seedUser(t, "alice@example.com")
	ctx := context.Background()

	res, err := env.engine.Impersonate(ctx, ImpersonateRequest{ActorID: "admin-1", TargetID: target.ID, TenantID: testTenant, Reason: "support"})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.engine.Logout(ctx, testTenant, target.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.engine.Authenticate(ctx, res.Token); err != nil {
		t.Fatalf("impersonation token should survive target logout: %v", err)
	}

	env.clock.Advance(2 * time.Hour)
	if _, err := env.engine.Authenticate(ctx, res.Token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestImpersonateValidation(t *testing.T) {
	env := newTestEnv(t)
	target := env.seedUser(t, "alice@example.com")

	cases := []struct {
		name string
		req  ImpersonateRequest
		want error
	}{
		{"no reason", ImpersonateRequest{ActorID: "admin-1", TargetID: target.ID, TenantID: testTenant, Reason: "  "}, ErrImpersonationReason},
		{"self", ImpersonateRequest{ActorID: target.ID, TargetID: target.ID, TenantID: testTenant, Reason: "x"}, ErrSelfImpersonation},
		{"missing target", ImpersonateRequest{ActorID: "admin-1", TargetID: "ghost", TenantID: testTenant, Reason: "x"}, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.engine.Impersonate(context.Background(), tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestEndImpersonateEmitsEvent(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.EndImpersonate(context.Background(), "u-1"); err != nil {
		t.Fatal(err)
	}
	got := env.notes.waitFor(t, EventImpersonationEnded)
	if got.payload["user_id"] != "u-1" {
		t.Fatalf("unexpected payload %+v", got.payload)
	}
}
