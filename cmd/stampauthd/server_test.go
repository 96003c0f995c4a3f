package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/stampauth"
	"github.com/MrEthical07/stampauth/credential"
	"github.com/MrEthical07/stampauth/store/memory"
)

const testPassword = "correct-horse-42"

type testServer struct {
	handler http.Handler
	store   *memory.Store
	events  chan map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	cfg := stampauth.DefaultConfig()
	cfg.JWT.PrivateKey, cfg.JWT.PublicKey = priv, pub
	cfg.Cipher.Key = bytes.Repeat([]byte{9}, 32)
	cfg.Links.RecoveryURL = "https://app.example.com/reset"
	cfg.Links.VerificationURL = "https://app.example.com/verify"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	ts := &testServer{store: memory.New(), events: make(chan map[string]string, 64)}
	notifier := stampauth.NotifierFunc(func(_ context.Context, event string, payload map[string]string) {
		if event != stampauth.EventEmailVerificationRequested {
			return
		}
		select {
		case ts.events <- payload:
		default:
		}
	})

	engine, err := stampauth.New().
		WithConfig(cfg).
		WithStore(ts.store).
		WithTenantProvisioner(ts.store).
		WithNotifier(notifier).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	logger := slog.New(slog.DiscardHandler)
	ts.handler = newServer(engine, logger, []string{"admin"}).routes()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

// register creates a verified account and returns its tenant and user IDs.
func (ts *testServer) register(t *testing.T, tenantID, email string) (string, string) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/v1/register", "", map[string]string{
		"tenant_id":   tenantID,
		"tenant_name": "acme",
		"email":       email,
		"password":    testPassword,
	})
	expectStatus(t, rec, http.StatusCreated)
	res := decodeBody[stampauth.RegisterResult](t, rec)

	var link string
	select {
	case payload := <-ts.events:
		link = payload[stampauth.LinkKey]
	case <-time.After(2 * time.Second):
		t.Fatal("no verification link sent")
	}
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link %q: %v", link, err)
	}
	rec = ts.do(t, http.MethodPost, "/v1/email/verify", "", map[string]string{"token": u.Query().Get("token")})
	expectStatus(t, rec, http.StatusNoContent)

	return res.User.TenantID, res.User.ID
}

func (ts *testServer) login(t *testing.T, tenantID, email, password string) *stampauth.Session {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/v1/login", "", map[string]string{
		"tenant_id": tenantID,
		"email":     email,
		"password":  password,
	})
	expectStatus(t, rec, http.StatusOK)
	res := decodeBody[stampauth.LoginResult](t, rec)
	if res.MFARequired || res.Session == nil {
		t.Fatalf("expected direct session, got %+v", res)
	}
	return res.Session
}

func TestRegisterVerifyLoginAndChangePassword(t *testing.T) {
	ts := newTestServer(t)
	tenant, _ := ts.register(t, "", "alice@example.com")

	sess := ts.login(t, tenant, "alice@example.com", testPassword)

	rec := ts.do(t, http.MethodGet, "/v1/me", sess.AccessToken, nil)
	expectStatus(t, rec, http.StatusOK)
	if p := decodeBody[stampauth.Principal](t, rec); p.Email != "alice@example.com" || p.TenantID != tenant {
		t.Fatalf("unexpected principal %+v", p)
	}

	rec = ts.do(t, http.MethodPost, "/v1/password/change", sess.AccessToken, map[string]string{
		"old_password": testPassword,
		"new_password": "battery-staple-99",
	})
	expectStatus(t, rec, http.StatusNoContent)

	expectStatus(t, ts.do(t, http.MethodGet, "/v1/me", sess.AccessToken, nil), http.StatusUnauthorized)
	expectStatus(t, ts.do(t, http.MethodPost, "/v1/refresh", "", map[string]string{
		"refresh_token": sess.RefreshToken,
	}), http.StatusUnauthorized)

	ts.login(t, tenant, "alice@example.com", "battery-staple-99")

	metrics := ts.do(t, http.MethodGet, "/metrics", "", nil)
	expectStatus(t, metrics, http.StatusOK)
	if !strings.Contains(metrics.Body.String(), "stampauth_login_success_total 2") {
		t.Fatalf("expected two logins in metrics:\n%s", metrics.Body.String())
	}
}

func TestLoginRejections(t *testing.T) {
	ts := newTestServer(t)
	tenant, _ := ts.register(t, "", "alice@example.com")

	rec := ts.do(t, http.MethodPost, "/v1/login", "", map[string]string{
		"tenant_id": tenant,
		"email":     "alice@example.com",
		"password":  "wrong-password",
	})
	expectStatus(t, rec, http.StatusBadRequest)
	if body := decodeBody[map[string]string](t, rec); body["error"] != "invalid_credentials" {
		t.Fatalf("unexpected error body %v", body)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/login", strings.NewReader(`{"email":"a","extra":1}`))
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusBadRequest)

	expectStatus(t, ts.do(t, http.MethodGet, "/v1/me", "", nil), http.StatusUnauthorized)
}

func TestLogoutRevokesSession(t *testing.T) {
	ts := newTestServer(t)
	tenant, _ := ts.register(t, "", "alice@example.com")
	sess := ts.login(t, tenant, "alice@example.com", testPassword)

	expectStatus(t, ts.do(t, http.MethodPost, "/v1/logout", sess.AccessToken, nil), http.StatusNoContent)
	expectStatus(t, ts.do(t, http.MethodGet, "/v1/me", sess.AccessToken, nil), http.StatusUnauthorized)
}

func TestAdminImpersonationAndStatus(t *testing.T) {
	ts := newTestServer(t)
	tenant, aliceID := ts.register(t, "", "alice@example.com")
	_, adminID := ts.register(t, tenant, "root@example.com")
	if _, err := ts.store.Update(context.Background(), tenant, adminID, credential.Patch{RoleID: credential.Ptr("admin")}); err != nil {
		t.Fatal(err)
	}

	alice := ts.login(t, tenant, "alice@example.com", testPassword)
	admin := ts.login(t, tenant, "root@example.com", testPassword)

	expectStatus(t, ts.do(t, http.MethodPost, "/v1/users/"+adminID+"/disable", alice.AccessToken, nil), http.StatusForbidden)

	rec := ts.do(t, http.MethodPost, "/v1/impersonate", admin.AccessToken, map[string]string{
		"target_id": aliceID,
		"reason":    "ticket 4411",
	})
	expectStatus(t, rec, http.StatusOK)
	imp := decodeBody[stampauth.ImpersonationResult](t, rec)

	rec = ts.do(t, http.MethodGet, "/v1/me", imp.Token, nil)
	expectStatus(t, rec, http.StatusOK)
	if p := decodeBody[stampauth.Principal](t, rec); p.UserID != aliceID || p.ImpersonatedBy != adminID {
		t.Fatalf("unexpected impersonated principal %+v", p)
	}
	expectStatus(t, ts.do(t, http.MethodPost, "/v1/password/change", imp.Token, map[string]string{
		"old_password": testPassword,
		"new_password": "battery-staple-99",
	}), http.StatusForbidden)
	expectStatus(t, ts.do(t, http.MethodPost, "/v1/impersonate/end", imp.Token, nil), http.StatusNoContent)
	expectStatus(t, ts.do(t, http.MethodPost, "/v1/impersonate/end", alice.AccessToken, nil), http.StatusBadRequest)

	expectStatus(t, ts.do(t, http.MethodPost, "/v1/users/"+aliceID+"/disable", admin.AccessToken, nil), http.StatusNoContent)
	expectStatus(t, ts.do(t, http.MethodGet, "/v1/me", alice.AccessToken, nil), http.StatusUnauthorized)

	expectStatus(t, ts.do(t, http.MethodPost, "/v1/users/"+aliceID+"/enable", admin.AccessToken, nil), http.StatusNoContent)
	ts.login(t, tenant, "alice@example.com", testPassword)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	expectStatus(t, ts.do(t, http.MethodGet, "/healthz", "", nil), http.StatusNoContent)
}
