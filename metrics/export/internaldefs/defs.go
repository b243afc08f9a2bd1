package internaldefs

import (
	goSession "github.com/MrEthical07/goSession"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// HistogramDef names one exported latency histogram.
type HistogramDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: goSession.MetricLoginSuccess, Name: "gosession_login_success_total", Help: "Successful logins."},
	{ID: goSession.MetricLoginFailure, Name: "gosession_login_failure_total", Help: "Failed logins."},
	{ID: goSession.MetricRegisterSuccess, Name: "gosession_register_success_total", Help: "Successful registrations."},
	{ID: goSession.MetricRegisterFailure, Name: "gosession_register_failure_total", Help: "Failed registrations."},
	{ID: goSession.MetricRefreshRequested, Name: "gosession_refresh_requested_total", Help: "Renewal requests, including callers joining an in-flight renewal."},
	{ID: goSession.MetricRefreshAttempt, Name: "gosession_refresh_attempt_total", Help: "Network token renewals."},
	{ID: goSession.MetricRefreshSuccess, Name: "gosession_refresh_success_total", Help: "Successful token renewals."},
	{ID: goSession.MetricRefreshFailure, Name: "gosession_refresh_failure_total", Help: "Failed token renewals."},
	{ID: goSession.MetricRefreshSkipped, Name: "gosession_refresh_skipped_total", Help: "Renewals skipped for lack of a refresh token."},
	{ID: goSession.MetricAuthExpired, Name: "gosession_auth_expired_total", Help: "Requests that ended the session as expired."},
	{ID: goSession.MetricRequestRetried, Name: "gosession_request_retried_total", Help: "Requests re-issued after a 401."},
	{ID: goSession.MetricRequestFailure, Name: "gosession_request_failure_total", Help: "API requests that did not succeed."},
	{ID: goSession.MetricLogout, Name: "gosession_logout_total", Help: "Logouts."},
	{ID: goSession.MetricOrganizationSelected, Name: "gosession_organization_selected_total", Help: "Organization selections, explicit or automatic."},
	{ID: goSession.MetricProjectSelected, Name: "gosession_project_selected_total", Help: "Project selections, explicit or automatic."},
	{ID: goSession.MetricAutoSelected, Name: "gosession_auto_selected_total", Help: "Automatic organization or project selections."},
	{ID: goSession.MetricStaleResultDiscarded, Name: "gosession_stale_result_discarded_total", Help: "List results discarded because the session moved on."},
}

var HistogramDefs = []HistogramDef{
	{ID: goSession.MetricRequestLatency, Name: "gosession_request_latency_seconds", Help: "API request latency, renewal and retry included."},
	{ID: goSession.MetricRefreshLatency, Name: "gosession_refresh_latency_seconds", Help: "Token renewal round-trip latency."},
}

// BucketCount is the number of latency buckets, overflow included.
const BucketCount = len(goSession.LatencyBounds) + 1

// HistogramBounds are the upper bounds in seconds of every bucket but the
// last, which is +Inf.
var HistogramBounds = func() []float64 {
	out := make([]float64, len(goSession.LatencyBounds))
	for i, d := range goSession.LatencyBounds {
		out[i] = d.Seconds()
	}
	return out
}()

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
