package credential

import "time"

// Patch is a partial update of a [Record]. Nil fields are left untouched.
//
// When IfStamp is non-empty the store must apply the patch only if the
// record's current SecurityStamp equals IfStamp, as one atomic operation, and
// return [ErrStampConflict] otherwise.
//
// TOTPLastUsedStep only moves forward. A store applies a patch carrying it
// only if the value is greater than the stored step, in the same atomic
// operation as the stamp check, and returns [ErrTOTPStepUsed] otherwise.
type Patch struct {
	Email               *string
	PasswordHash        *string
	SecurityStamp       *string
	MFAEnabled          *bool
	MFASecretEncrypted  *string
	TOTPLastUsedStep    *int64
	Status              *Status
	EmailVerifiedAt     *time.Time
	FailedLoginAttempts *int
	GoogleID            *string
	RoleID              *string

	IfStamp string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Email == nil &&
		p.PasswordHash == nil &&
		p.SecurityStamp == nil &&
		p.MFAEnabled == nil &&
		p.MFASecretEncrypted == nil &&
		p.TOTPLastUsedStep == nil &&
		p.Status == nil &&
		p.EmailVerifiedAt == nil &&
		p.FailedLoginAttempts == nil &&
		p.GoogleID == nil &&
		p.RoleID == nil
}

// Apply writes the patch onto r and stamps UpdatedAt. It does not check IfStamp;
// stores do that before calling Apply.
func (p Patch) Apply(r *Record, now time.Time) {
	if p.Email != nil {
		r.Email = NormalizeEmail(*p.Email)
	}
	if p.PasswordHash != nil {
		r.PasswordHash = *p.PasswordHash
	}
	if p.SecurityStamp != nil {
		r.SecurityStamp = *p.SecurityStamp
	}
	if p.MFAEnabled != nil {
		r.MFAEnabled = *p.MFAEnabled
	}
	if p.MFASecretEncrypted != nil {
		r.MFASecretEncrypted = *p.MFASecretEncrypted
	}
	if p.TOTPLastUsedStep != nil {
		r.TOTPLastUsedStep = *p.TOTPLastUsedStep
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.EmailVerifiedAt != nil {
		t := *p.EmailVerifiedAt
		r.EmailVerifiedAt = &t
	}
	if p.FailedLoginAttempts != nil {
		r.FailedLoginAttempts = *p.FailedLoginAttempts
		if *p.FailedLoginAttempts == 0 {
			r.LockoutEndAt = nil
		}
	}
	if p.GoogleID != nil {
		r.GoogleID = *p.GoogleID
	}
	if p.RoleID != nil {
		r.RoleID = *p.RoleID
	}
	r.UpdatedAt = now
}

// Check reports the conflict, if any, that stops p from applying to r.
func (p Patch) Check(r *Record) error {
	if p.IfStamp != "" && p.IfStamp != r.SecurityStamp {
		return ErrStampConflict
	}
	if p.TOTPLastUsedStep != nil && *p.TOTPLastUsedStep <= r.TOTPLastUsedStep {
		return ErrTOTPStepUsed
	}
	return nil
}

// Ptr returns a pointer to v. It keeps patch literals short.
func Ptr[T any](v T) *T {
	return &v
}
