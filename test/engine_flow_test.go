//go:build integration

package test

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/stampauth"
	"github.com/MrEthical07/stampauth/notify"
)

func registerVerified(t *testing.T, engine *stampauth.Engine, links *recorder, email string) *stampauth.User {
	t.Helper()
	ctx := context.Background()
	res, err := engine.Register(ctx, stampauth.RegisterRequest{TenantName: "acme", Email: email, Password: testPassword})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	var link string
	deadline := time.After(2 * time.Second)
	for link == "" {
		select {
		case payload := <-links.ch:
			link = payload[stampauth.LinkKey]
		case <-deadline:
			t.Fatal("verification link not delivered")
		}
	}
	u, err := url.Parse(link)
	if err != nil {
		t.Fatal(err)
	}
	if err := engine.VerifyEmail(ctx, u.Query().Get("token")); err != nil {
		t.Fatalf("verify email: %v", err)
	}
	return res.User
}

func loginSession(t *testing.T, engine *stampauth.Engine, user *stampauth.User) *stampauth.Session {
	t.Helper()
	ctx := context.Background()
	u, ok, err := engine.ValidateCredentials(ctx, user.TenantID, user.Email, testPassword)
	if err != nil || !ok {
		t.Fatalf("ValidateCredentials = %v, %v", ok, err)
	}
	res, err := engine.Login(ctx, u)
	if err != nil || res.Session == nil {
		t.Fatalf("Login = %+v, %v", res, err)
	}
	return res.Session
}

func TestEngineSessionLifecycle(t *testing.T) {
	for _, mode := range backendModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			links := &recorder{ch: make(chan map[string]string, 16)}
			engine := newEngine(t, mode.setup(t), notify.Only(links, stampauth.EventEmailVerificationRequested))
			ctx := context.Background()

			user := registerVerified(t, engine, links, "alice@example.com")
			sess := loginSession(t, engine, user)

			next, err := engine.RefreshSession(ctx, sess.RefreshToken)
			if err != nil {
				t.Fatalf("refresh: %v", err)
			}
			if _, err := engine.Authenticate(ctx, next.AccessToken); err != nil {
				t.Fatalf("authenticate: %v", err)
			}

			if err := engine.Logout(ctx, user.TenantID, user.ID); err != nil {
				t.Fatalf("logout: %v", err)
			}
			for _, tok := range []string{sess.AccessToken, next.AccessToken} {
				if _, err := engine.Authenticate(ctx, tok); !errors.Is(err, stampauth.ErrTokenRevoked) {
					t.Fatalf("expected revoked access token, got %v", err)
				}
			}
			if _, err := engine.RefreshSession(ctx, next.RefreshToken); !errors.Is(err, stampauth.ErrTokenRevoked) {
				t.Fatalf("expected revoked refresh token, got %v", err)
			}
		})
	}
}

func TestConcurrentLogoutAndPasswordChange(t *testing.T) {
	for _, mode := range backendModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			links := &recorder{ch: make(chan map[string]string, 16)}
			engine := newEngine(t, mode.setup(t), notify.Only(links, stampauth.EventEmailVerificationRequested))
			ctx := context.Background()

			user := registerVerified(t, engine, links, "bob@example.com")
			sess := loginSession(t, engine, user)

			var wg sync.WaitGroup
			errs := make(chan error, 2)
			wg.Add(2)
			go func() {
				defer wg.Done()
				errs <- engine.Logout(ctx, user.TenantID, user.ID)
			}()
			go func() {
				defer wg.Done()
				errs <- engine.ChangePassword(ctx, user.TenantID, user.ID, testPassword, "battery-staple-99")
			}()
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil && !errors.Is(err, stampauth.ErrConcurrentUpdate) {
					t.Fatalf("unexpected error: %v", err)
				}
			}

			if _, err := engine.Authenticate(ctx, sess.AccessToken); !errors.Is(err, stampauth.ErrTokenRevoked) {
				t.Fatalf("expected revoked token after concurrent rotations, got %v", err)
			}
		})
	}
}
