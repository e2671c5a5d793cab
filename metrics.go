package tokenpipe

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter.
type MetricID uint16

const (
	// MetricRequest counts Do calls.
	MetricRequest MetricID = iota
	// MetricRequestPublic counts requests that bypassed credential handling.
	MetricRequestPublic
	// MetricCredentialMissing counts requests that found no access token.
	MetricCredentialMissing
	// MetricCredentialProactive counts access tokens treated as absent because they were about to expire.
	MetricCredentialProactive
	// MetricExpiryStatus counts HTTP 401 expiry signals.
	MetricExpiryStatus
	// MetricExpiryCode counts in-body token-expired signals.
	MetricExpiryCode
	// MetricRetry counts requests re-sent after a renewal.
	MetricRetry
	// MetricRetryExpired counts retried requests that signalled expiry again.
	MetricRetryExpired
	// MetricRenewalStarted counts renewal cycles started.
	MetricRenewalStarted
	// MetricRenewalWaiter counts callers that joined a cycle already in flight.
	MetricRenewalWaiter
	// MetricRenewalSuccess counts successful cycles.
	MetricRenewalSuccess
	// MetricRenewalFailure counts failed cycles.
	MetricRenewalFailure
	// MetricRenewalReused counts cycles settled with a token another cycle had stored.
	MetricRenewalReused
	// MetricWaitersResolved counts callers handed a renewed token.
	MetricWaitersResolved
	// MetricWaitersRejected counts callers handed a session-expired rejection.
	MetricWaitersRejected
	// MetricSessionCleared counts credential clears after a failed cycle.
	MetricSessionCleared
	// MetricRedirectIssued counts redirects to the login page.
	MetricRedirectIssued
	// MetricRedirectSuppressed counts failures that did not redirect.
	MetricRedirectSuppressed
	// MetricPermissionDenied counts 403 responses.
	MetricPermissionDenied
	// MetricNotFound counts 404 responses.
	MetricNotFound
	// MetricServerError counts 5xx responses.
	MetricServerError
	// MetricTransportError counts requests that got no response.
	MetricTransportError
	// MetricAPIError counts envelopes with a failure code.
	MetricAPIError
	// MetricLoginSuccess counts successful logins.
	MetricLoginSuccess
	// MetricLoginFailure counts failed logins.
	MetricLoginFailure
	// MetricLogout counts logouts.
	MetricLogout
	// MetricRenewalLatency is the renewal duration histogram.
	MetricRenewalLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters and one latency histogram.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of [Metrics].
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns a [Metrics] configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters record.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the histogram records.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add adds n to id.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount || n == 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records d in the histogram of id. Only MetricRenewalLatency has one.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricRenewalLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current count of id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and, when enabled, the latency histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricRenewalLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricRenewalLatency].buckets[i])
		}
		s.Histograms[MetricRenewalLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
