package internaldefs

import (
	"strconv"
	"strings"

	"github.com/MrEthical07/stampauth"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   stampauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for exporters.
type HistogramDef struct {
	ID   stampauth.MetricID
	Name string
	Help string
}

// NotifierDroppedName is the counter for events the dispatcher discarded.
const (
	NotifierDroppedName = "stampauth_notifier_dropped_total"
	NotifierDroppedHelp = "Notifier events dropped due to dispatcher backpressure."
)

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: stampauth.MetricLoginSuccess, Name: "stampauth_login_success_total", Help: "Successful password logins."},
	{ID: stampauth.MetricLoginFailure, Name: "stampauth_login_failure_total", Help: "Rejected password logins."},
	{ID: stampauth.MetricLoginMFARequired, Name: "stampauth_login_mfa_required_total", Help: "Logins answered with an MFA challenge."},
	{ID: stampauth.MetricMFALoginSuccess, Name: "stampauth_mfa_login_success_total", Help: "Completed MFA login challenges."},
	{ID: stampauth.MetricMFALoginFailure, Name: "stampauth_mfa_login_failure_total", Help: "Failed MFA login challenges."},
	{ID: stampauth.MetricRefreshSuccess, Name: "stampauth_refresh_success_total", Help: "Successful session refreshes."},
	{ID: stampauth.MetricRefreshFailure, Name: "stampauth_refresh_failure_total", Help: "Rejected session refreshes."},
	{ID: stampauth.MetricRefreshRevoked, Name: "stampauth_refresh_revoked_total", Help: "Refresh tokens rejected for a rotated security stamp."},
	{ID: stampauth.MetricAuthenticateSuccess, Name: "stampauth_authenticate_success_total", Help: "Accepted access tokens."},
	{ID: stampauth.MetricAuthenticateFailure, Name: "stampauth_authenticate_failure_total", Help: "Rejected access tokens."},
	{ID: stampauth.MetricMFASetupStarted, Name: "stampauth_mfa_setup_started_total", Help: "MFA enrollments started."},
	{ID: stampauth.MetricMFAEnabled, Name: "stampauth_mfa_enabled_total", Help: "MFA enrollments confirmed."},
	{ID: stampauth.MetricMFASetupFailure, Name: "stampauth_mfa_setup_failure_total", Help: "Failed MFA enrollments."},
	{ID: stampauth.MetricMFADisabled, Name: "stampauth_mfa_disabled_total", Help: "MFA disable operations."},
	{ID: stampauth.MetricMFADisableFailure, Name: "stampauth_mfa_disable_failure_total", Help: "Rejected MFA disable operations."},
	{ID: stampauth.MetricPasswordResetRequest, Name: "stampauth_password_reset_request_total", Help: "Password reset requests."},
	{ID: stampauth.MetricPasswordResetSuccess, Name: "stampauth_password_reset_success_total", Help: "Completed password resets."},
	{ID: stampauth.MetricPasswordResetFailure, Name: "stampauth_password_reset_failure_total", Help: "Rejected password resets."},
	{ID: stampauth.MetricPasswordChangeSuccess, Name: "stampauth_password_change_success_total", Help: "Completed password changes."},
	{ID: stampauth.MetricPasswordChangeFailure, Name: "stampauth_password_change_failure_total", Help: "Rejected password changes."},
	{ID: stampauth.MetricPasswordRehash, Name: "stampauth_password_rehash_total", Help: "Password hashes upgraded on login."},
	{ID: stampauth.MetricEmailVerificationRequest, Name: "stampauth_email_verification_request_total", Help: "Email verification requests."},
	{ID: stampauth.MetricEmailVerificationSuccess, Name: "stampauth_email_verification_success_total", Help: "Completed email verifications."},
	{ID: stampauth.MetricEmailVerificationFailure, Name: "stampauth_email_verification_failure_total", Help: "Rejected email verifications."},
	{ID: stampauth.MetricAccountCreationSuccess, Name: "stampauth_account_creation_success_total", Help: "Created accounts."},
	{ID: stampauth.MetricAccountCreationDuplicate, Name: "stampauth_account_creation_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: stampauth.MetricSocialLogin, Name: "stampauth_social_login_total", Help: "Federated sign-ins."},
	{ID: stampauth.MetricImpersonationStarted, Name: "stampauth_impersonation_started_total", Help: "Impersonation tokens issued."},
	{ID: stampauth.MetricImpersonationEnded, Name: "stampauth_impersonation_ended_total", Help: "Impersonation sessions ended."},
	{ID: stampauth.MetricLogout, Name: "stampauth_logout_total", Help: "Logouts."},
	{ID: stampauth.MetricAccountDisabled, Name: "stampauth_account_disabled_total", Help: "Account disable operations."},
	{ID: stampauth.MetricAccountEnabled, Name: "stampauth_account_enabled_total", Help: "Account enable operations."},
	{ID: stampauth.MetricStampConflict, Name: "stampauth_stamp_conflict_total", Help: "Conditional writes that lost a stamp race."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: stampauth.MetricValidateLatency, Name: "stampauth_validate_latency_seconds", Help: "Credential check latency."},
}

// BucketLabel is one histogram bucket's upper bound in seconds, as printed
// in the Prometheus "le" label and as a metric-name-safe suffix.
type BucketLabel struct {
	LE     string
	Suffix string
}

// BucketLabels returns one label per engine latency bucket, ending with +Inf.
func BucketLabels() []BucketLabel {
	bounds := stampauth.LatencyBounds()
	out := make([]BucketLabel, 0, len(bounds)+1)
	for _, d := range bounds {
		le := strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
		out = append(out, BucketLabel{LE: le, Suffix: strings.ReplaceAll(le, ".", "_")})
	}
	return append(out, BucketLabel{LE: "+Inf", Suffix: "inf"})
}

// Cumulative turns per-bucket counts into the running totals both exposition
// formats expect. Missing trailing buckets count as zero.
func Cumulative(h stampauth.Histogram) []uint64 {
	out := make([]uint64, stampauth.LatencyBucketCount)
	var running uint64
	for i := range out {
		if i < len(h.Buckets) {
			running += h.Buckets[i]
		}
		out[i] = running
	}
	return out
}
