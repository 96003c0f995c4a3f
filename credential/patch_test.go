package credential

import (
	"testing"
	"time"
)

func TestPatchApplyTouchesOnlySetFields(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := &Record{
		ID:                  "u1",
		TenantID:            "t1",
		Email:               "alice@example.com",
		PasswordHash:        "old-hash",
		SecurityStamp:       "s1",
		Status:              StatusPendingVerification,
		FailedLoginAttempts: 3,
		LockoutEndAt:        &now,
	}

	Patch{
		SecurityStamp:       Ptr("s2"),
		Status:              Ptr(StatusActive),
		FailedLoginAttempts: Ptr(0),
	}.Apply(rec, now)

	if rec.SecurityStamp != "s2" || rec.Status != StatusActive {
		t.Fatalf("patch not applied: %+v", rec)
	}
	if rec.PasswordHash != "old-hash" || rec.Email != "alice@example.com" {
		t.Fatalf("untouched fields changed: %+v", rec)
	}
	if rec.FailedLoginAttempts != 0 || rec.LockoutEndAt != nil {
		t.Fatalf("expected attempts reset to clear lockout, got %+v", rec)
	}
	if !rec.UpdatedAt.Equal(now) {
		t.Fatalf("expected UpdatedAt=%v, got %v", now, rec.UpdatedAt)
	}
}

func TestPatchClearsMFASecretWithEmptyString(t *testing.T) {
	rec := &Record{MFAEnabled: true, MFASecretEncrypted: "ciphertext"}
	Patch{MFAEnabled: Ptr(false), MFASecretEncrypted: Ptr("")}.Apply(rec, time.Now())
	if rec.MFAEnabled || rec.MFASecretEncrypted != "" {
		t.Fatalf("expected MFA cleared, got %+v", rec)
	}
}

func TestPatchEmpty(t *testing.T) {
	if !(Patch{IfStamp: "s1"}).Empty() {
		t.Fatal("IfStamp alone must not count as a change")
	}
	if (Patch{RoleID: Ptr("admin")}).Empty() {
		t.Fatal("expected non-empty patch")
	}
}

func TestRecordCloneIsDeep(t *testing.T) {
	at := time.Now()
	rec := &Record{EmailVerifiedAt: &at}
	cp := rec.Clone()
	later := at.Add(time.Hour)
	*cp.EmailVerifiedAt = later
	if !rec.EmailVerifiedAt.Equal(at) {
		t.Fatal("clone shares EmailVerifiedAt with original")
	}
}

func TestRecordUsable(t *testing.T) {
	cases := []struct {
		name string
		rec  *Record
		want bool
	}{
		{"password", &Record{PasswordHash: "h"}, true},
		{"google", &Record{GoogleID: "g"}, true},
		{"none", &Record{}, false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		if got := tc.rec.Usable(); got != tc.want {
			t.Fatalf("%s: Usable()=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestPatchCheck(t *testing.T) {
	rec := &Record{SecurityStamp: "s1", TOTPLastUsedStep: 10}

	tests := []struct {
		name  string
		patch Patch
		want  error
	}{
		{"no conditions", Patch{Status: Ptr(StatusActive)}, nil},
		{"stamp matches", Patch{IfStamp: "s1"}, nil},
		{"stamp moved", Patch{IfStamp: "s0"}, ErrStampConflict},
		{"step advances", Patch{TOTPLastUsedStep: Ptr(int64(11))}, nil},
		{"step reused", Patch{TOTPLastUsedStep: Ptr(int64(10))}, ErrTOTPStepUsed},
		{"step older", Patch{TOTPLastUsedStep: Ptr(int64(9))}, ErrTOTPStepUsed},
		{"stamp checked first", Patch{IfStamp: "s0", TOTPLastUsedStep: Ptr(int64(9))}, ErrStampConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.patch.Check(rec); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
