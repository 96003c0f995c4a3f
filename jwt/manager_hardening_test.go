package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t testing.TB) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func claimsFor(sub string, typ TokenType) Claims {
	return Claims{
		Type:          typ,
		TenantID:      "t1",
		Email:         "a@example.com",
		SecurityStamp: "stamp-1",
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject: sub,
		},
	}
}

func registered(iss, aud string, exp, iat time.Time) gjwt.RegisteredClaims {
	rc := gjwt.RegisteredClaims{
		Subject:   "u1",
		Issuer:    iss,
		ExpiresAt: gjwt.NewNumericDate(exp),
		IssuedAt:  gjwt.NewNumericDate(iat),
	}
	if aud != "" {
		rc.Audience = gjwt.ClaimStrings{aud}
	}
	return rc
}

func TestSignVerifyRoundTripCarriesCustomClaims(t *testing.T) {
	pub, priv := newEdKeys(t)
	m, err := NewManager(Config{SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub, Issuer: "stampauth"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	in := claimsFor("u1", TypeImpersonation)
	in.ImpersonatedBy = "admin-1"
	in.ImpersonationReason = "support ticket"
	tok, err := m.Sign(in, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	out, err := m.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out.Subject != "u1" || out.Type != TypeImpersonation || out.TenantID != "t1" {
		t.Fatalf("unexpected claims: %+v", out)
	}
	if out.ImpersonatedBy != "admin-1" || out.ImpersonationReason != "support ticket" {
		t.Fatalf("impersonation claims lost: %+v", out)
	}
	if out.ID == "" {
		t.Fatal("expected jti to be set")
	}
	if got := out.ExpiresAt.Sub(out.IssuedAt.Time); got != time.Hour {
		t.Fatalf("expected 1h lifetime, got %v", got)
	}
}

func TestSignRejectsBadInput(t *testing.T) {
	m, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: []byte("0123456789abcdef0123456789abcdef")})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := m.Sign(claimsFor("u1", TypeAccess), 0); err != ErrInvalidTTL {
		t.Fatalf("expected ErrInvalidTTL, got %v", err)
	}
	if _, err := m.Sign(claimsFor("u1", ""), time.Minute); err != ErrMissingType {
		t.Fatalf("expected ErrMissingType, got %v", err)
	}
}

func TestNewManagerRejectsShortHMACKey(t *testing.T) {
	if _, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: []byte("short")}); err == nil {
		t.Fatal("expected short hs256 key to be rejected")
	}
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := claimsFor("u1", TypeAccess)
	claims.ExpiresAt = gjwt.NewNumericDate(time.Now().Add(time.Minute))
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims)
	token, err := tok.SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := m.Verify(token); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestVerifyIssuerAudienceAndLeeway(t *testing.T) {
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     priv.Public().(ed25519.PublicKey),
		Issuer:        "stampauth",
		Audience:      "api",
		Leeway:        30 * time.Second,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	access, err := m.Sign(claimsFor("u1", TypeAccess), time.Minute)
	if err != nil {
		t.Fatalf("sign access: %v", err)
	}
	if _, err := m.Verify(access); err != nil {
		t.Fatalf("expected valid token to parse: %v", err)
	}

	now := time.Now()
	cases := []struct {
		name string
		rc   gjwt.RegisteredClaims
		ok   bool
	}{
		{"wrong issuer", registered("other", "api", now.Add(time.Minute), now), false},
		{"wrong audience", registered("stampauth", "other-api", now.Add(time.Minute), now), false},
		{"expired within leeway", registered("stampauth", "api", now.Add(-15*time.Second), now.Add(-time.Minute)), true},
		{"expired", registered("stampauth", "api", now.Add(-2*time.Minute), now.Add(-3*time.Minute)), false},
	}
	for _, tc := range cases {
		claims := Claims{Type: TypeAccess, RegisteredClaims: tc.rc}
		signed, err := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims).SignedString(priv)
		if err != nil {
			t.Fatalf("%s: sign: %v", tc.name, err)
		}
		_, err = m.Verify(signed)
		if tc.ok && err != nil {
			t.Fatalf("%s: expected pass, got %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected failure", tc.name)
		}
	}
}

func TestVerifyUsesInjectedClock(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m, err := NewManager(Config{
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Now:           func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	tok, err := m.Sign(claimsFor("u1", TypeMFATemp), 5*time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Verify(tok); err != nil {
		t.Fatalf("expected fresh token to pass: %v", err)
	}

	now = now.Add(6 * time.Minute)
	if _, err := m.Verify(tok); err == nil {
		t.Fatal("expected token to expire after ttl")
	}
}

func TestVerifyRejectsMissingSubject(t *testing.T) {
	m, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: []byte("0123456789abcdef0123456789abcdef")})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	tok, err := m.Sign(claimsFor("", TypeAccess), time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Verify(tok); err == nil {
		t.Fatal("expected token without subject to be rejected")
	}
}

func TestVerifyUnknownKidFails(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	pub2, _ := newEdKeys(t)
	m, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv1,
		PublicKey:     pub1,
		KeyID:         "k1",
		VerifyKeys: map[string][]byte{
			"k1": pub1,
		},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := claimsFor("u1", TypeAccess)
	claims.ExpiresAt = gjwt.NewNumericDate(time.Now().Add(time.Minute))
	tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = "k2"
	token, err := tok.SignedString(priv1)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.Verify(token); err == nil {
		t.Fatal("expected unknown kid failure")
	}

	good, err := m.Sign(claimsFor("u1", TypeAccess), time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Verify(good); err != nil {
		t.Fatalf("expected known kid token to pass: %v", err)
	}

	m2, _ := NewManager(Config{SigningMethod: MethodEd25519, PublicKey: pub2, VerifyKeys: map[string][]byte{"k1": pub2}})
	if _, err := m2.Verify(good); err == nil {
		t.Fatal("expected parse failure with mismatched key set")
	}
}

func TestStampChecked(t *testing.T) {
	for _, typ := range []TokenType{TypeAccess, TypeRefresh, TypeRecovery, TypeVerification} {
		if !typ.StampChecked() {
			t.Fatalf("%s must be stamp checked", typ)
		}
	}
	for _, typ := range []TokenType{TypeMFATemp, TypeImpersonation} {
		if typ.StampChecked() {
			t.Fatalf("%s must not be stamp checked", typ)
		}
	}
}

func TestVerifyOnlyManagerCannotSign(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := m.Sign(claimsFor("u1", TypeAccess), time.Minute); err == nil {
		t.Fatal("expected Sign to fail without a private key")
	}
}

func TestHS256RejectsShortRotationKey(t *testing.T) {
	_, err := NewManager(Config{
		SigningMethod: MethodHS256,
		PrivateKey:    []byte(strings.Repeat("a", minHMACKeyBytes)),
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": []byte("short")},
	})
	if err == nil {
		t.Fatal("expected short hs256 verify key to be rejected")
	}
}
