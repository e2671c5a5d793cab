package internaldefs

import (
	tokenpipe "github.com/MrEthical07/tokenpipe"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   tokenpipe.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   tokenpipe.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter in export order.
var CounterDefs = []CounterDef{
	{ID: tokenpipe.MetricRequest, Name: "tokenpipe_requests_total", Help: "Requests sent through the pipeline."},
	{ID: tokenpipe.MetricRequestPublic, Name: "tokenpipe_requests_public_total", Help: "Requests that bypassed credential handling."},
	{ID: tokenpipe.MetricCredentialMissing, Name: "tokenpipe_credential_missing_total", Help: "Requests that found no stored access token."},
	{ID: tokenpipe.MetricCredentialProactive, Name: "tokenpipe_credential_proactive_total", Help: "Access tokens renewed ahead of expiry."},
	{ID: tokenpipe.MetricExpiryStatus, Name: "tokenpipe_expiry_status_total", Help: "HTTP 401 expiry signals."},
	{ID: tokenpipe.MetricExpiryCode, Name: "tokenpipe_expiry_code_total", Help: "Envelope token-expired signals."},
	{ID: tokenpipe.MetricRetry, Name: "tokenpipe_retry_total", Help: "Requests re-sent after a renewal."},
	{ID: tokenpipe.MetricRetryExpired, Name: "tokenpipe_retry_expired_total", Help: "Retried requests that signalled expiry again."},
	{ID: tokenpipe.MetricRenewalStarted, Name: "tokenpipe_renewal_started_total", Help: "Renewal cycles started."},
	{ID: tokenpipe.MetricRenewalWaiter, Name: "tokenpipe_renewal_waiter_total", Help: "Callers that joined a renewal already in flight."},
	{ID: tokenpipe.MetricRenewalSuccess, Name: "tokenpipe_renewal_success_total", Help: "Successful renewal cycles."},
	{ID: tokenpipe.MetricRenewalFailure, Name: "tokenpipe_renewal_failure_total", Help: "Failed renewal cycles."},
	{ID: tokenpipe.MetricRenewalReused, Name: "tokenpipe_renewal_reused_total", Help: "Renewal cycles settled with an already stored token."},
	{ID: tokenpipe.MetricWaitersResolved, Name: "tokenpipe_waiters_resolved_total", Help: "Callers handed a renewed token."},
	{ID: tokenpipe.MetricWaitersRejected, Name: "tokenpipe_waiters_rejected_total", Help: "Callers rejected by a failed renewal."},
	{ID: tokenpipe.MetricSessionCleared, Name: "tokenpipe_session_cleared_total", Help: "Credential clears after a failed renewal."},
	{ID: tokenpipe.MetricRedirectIssued, Name: "tokenpipe_redirect_issued_total", Help: "Redirects to the login page."},
	{ID: tokenpipe.MetricRedirectSuppressed, Name: "tokenpipe_redirect_suppressed_total", Help: "Session failures that did not redirect."},
	{ID: tokenpipe.MetricPermissionDenied, Name: "tokenpipe_permission_denied_total", Help: "HTTP 403 responses."},
	{ID: tokenpipe.MetricNotFound, Name: "tokenpipe_not_found_total", Help: "HTTP 404 responses."},
	{ID: tokenpipe.MetricServerError, Name: "tokenpipe_server_error_total", Help: "HTTP 5xx responses."},
	{ID: tokenpipe.MetricTransportError, Name: "tokenpipe_transport_error_total", Help: "Requests that received no response."},
	{ID: tokenpipe.MetricAPIError, Name: "tokenpipe_api_error_total", Help: "Envelopes carrying a failure code."},
	{ID: tokenpipe.MetricLoginSuccess, Name: "tokenpipe_login_success_total", Help: "Successful logins."},
	{ID: tokenpipe.MetricLoginFailure, Name: "tokenpipe_login_failure_total", Help: "Failed logins."},
	{ID: tokenpipe.MetricLogout, Name: "tokenpipe_logout_total", Help: "Logouts."},
}

// HistogramDefs lists every histogram in export order.
var HistogramDefs = []HistogramDef{
	{ID: tokenpipe.MetricRenewalLatency, Name: "tokenpipe_renewal_latency_seconds", Help: "Renewal cycle latency histogram."},
}

// AuditDroppedName is the counter of audit events lost to backpressure.
const AuditDroppedName = "tokenpipe_audit_dropped_total"

// HistogramUpperBounds are the bucket upper bounds in seconds; the last bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// NormalizeBuckets copies raw into a fixed-size array, zero filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
