package internaldefs

import (
	goGate "github.com/MrEthical07/goGate"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   goGate.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   goGate.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in output order.
var CounterDefs = []CounterDef{
	{ID: goGate.MetricLoginSuccess, Name: "gogate_login_success_total", Help: "Successful logins."},
	{ID: goGate.MetricLoginFailure, Name: "gogate_login_failure_total", Help: "Rejected logins."},
	{ID: goGate.MetricLoginRateLimited, Name: "gogate_login_rate_limited_total", Help: "Logins rejected by the attempt throttle."},
	{ID: goGate.MetricLoginLocked, Name: "gogate_login_locked_total", Help: "Logins rejected by the failure lockout."},
	{ID: goGate.MetricPolicyRejected, Name: "gogate_policy_rejected_total", Help: "Logins rejected by IP or login-hour policy."},
	{ID: goGate.MetricMaxUsersReached, Name: "gogate_max_users_reached_total", Help: "System user logins rejected by the capacity limit."},
	{ID: goGate.MetricPasswordHashUpgraded, Name: "gogate_password_hash_upgraded_total", Help: "Legacy password hashes rewritten on login."},
	{ID: goGate.MetricTwoFactorRequired, Name: "gogate_two_factor_required_total", Help: "Logins that issued a verification challenge."},
	{ID: goGate.MetricOTPSuccess, Name: "gogate_otp_success_total", Help: "Accepted verification codes."},
	{ID: goGate.MetricOTPFailure, Name: "gogate_otp_failure_total", Help: "Rejected verification codes."},
	{ID: goGate.MetricOTPDeliveryFailed, Name: "gogate_otp_delivery_failed_total", Help: "Verification codes that could not be sent."},
	{ID: goGate.MetricSessionCreated, Name: "gogate_session_created_total", Help: "Created sessions."},
	{ID: goGate.MetricSessionResumed, Name: "gogate_session_resumed_total", Help: "Requests that resumed a stored session."},
	{ID: goGate.MetricSessionDemoted, Name: "gogate_session_demoted_total", Help: "Requests demoted to Guest."},
	{ID: goGate.MetricSessionsCleared, Name: "gogate_sessions_cleared_total", Help: "Sessions removed by policy or administrator action."},
	{ID: goGate.MetricSessionsPurged, Name: "gogate_sessions_purged_total", Help: "Expired sessions removed by the sweeper."},
	{ID: goGate.MetricLogout, Name: "gogate_logout_total", Help: "Logouts."},
	{ID: goGate.MetricForcedLogout, Name: "gogate_forced_logout_total", Help: "Logouts of another principal by an administrator."},
	{ID: goGate.MetricPrincipalDisabled, Name: "gogate_principal_disabled_total", Help: "Principals disabled."},
	{ID: goGate.MetricCSRFRejected, Name: "gogate_csrf_rejected_total", Help: "Requests rejected for a missing or wrong CSRF token."},
	{ID: goGate.MetricSessionsStoppedRejected, Name: "gogate_sessions_stopped_rejected_total", Help: "Requests rejected while sessions are stopped."},
	{ID: goGate.MetricAuditWriteFailed, Name: "gogate_audit_write_failed_total", Help: "Authentication log writes that failed."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goGate.MetricLoginLatency, Name: "gogate_login_latency_seconds", Help: "Login latency."},
}

// HistogramBounds are the engine bucket upper bounds in seconds.
var HistogramBounds = []string{
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds made safe for instrument names.
var HistogramBoundSuffix = []string{
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
