package stampauth

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginMFARequired
	MetricMFALoginSuccess
	MetricMFALoginFailure
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshRevoked
	MetricAuthenticateSuccess
	MetricAuthenticateFailure
	MetricMFASetupStarted
	MetricMFAEnabled
	MetricMFASetupFailure
	MetricMFADisabled
	MetricMFADisableFailure
	MetricPasswordResetRequest
	MetricPasswordResetSuccess
	MetricPasswordResetFailure
	MetricPasswordChangeSuccess
	MetricPasswordChangeFailure
	MetricPasswordRehash
	MetricEmailVerificationRequest
	MetricEmailVerificationSuccess
	MetricEmailVerificationFailure
	MetricAccountCreationSuccess
	MetricAccountCreationDuplicate
	MetricSocialLogin
	MetricImpersonationStarted
	MetricImpersonationEnded
	MetricLogout
	MetricAccountDisabled
	MetricAccountEnabled
	MetricStampConflict
	MetricValidateLatency
	metricIDCount
)

// latencyBounds are the inclusive upper bounds of the credential-check
// histogram. Argon2id dominates the check, so the range starts well above
// typical cache latencies.
var latencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

// LatencyBucketCount is the number of histogram buckets, including the
// trailing unbounded one.
const LatencyBucketCount = len(latencyBounds) + 1

const cacheLineSize = 64

// LatencyBounds returns the histogram's finite upper bounds in ascending order.
func LatencyBounds() []time.Duration {
	return append([]time.Duration(nil), latencyBounds[:]...)
}

type paddedCounter struct {
	value atomic.Uint64
	_     [cacheLineSize - 8]byte
}

type latencyHistogram struct {
	buckets [LatencyBucketCount]atomic.Uint64
	sum     atomic.Int64
}

func (h *latencyHistogram) observe(d time.Duration) {
	i := 0
	for i < len(latencyBounds) && d > latencyBounds[i] {
		i++
	}
	h.buckets[i].Add(1)
	h.sum.Add(int64(d))
}

// Histogram is a snapshot of one latency histogram. Buckets holds
// per-bucket (not cumulative) counts aligned with [LatencyBounds], plus the
// final unbounded bucket.
type Histogram struct {
	Buckets []uint64
	Count   uint64
	Sum     time.Duration
}

// Metrics holds lock-free engine counters and the credential-check latency
// histogram. A nil *Metrics is valid and records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	validate      latencyHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID]Histogram
}

func emptySnapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID]Histogram{},
	}
}

// NewMetrics returns counters configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount || id == MetricValidateLatency {
		return
	}
	m.counters[id].value.Add(1)
}

// Observe records d into the latency histogram. Only MetricValidateLatency
// has one.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() || id != MetricValidateLatency {
		return
	}
	m.validate.observe(d)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].value.Load()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if !m.Enabled() {
		return emptySnapshot()
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)-1),
		Histograms: make(map[MetricID]Histogram, 1),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricValidateLatency {
			continue
		}
		s.Counters[id] = m.counters[id].value.Load()
	}

	if m.enableLatency {
		h := Histogram{Buckets: make([]uint64, LatencyBucketCount)}
		for i := range m.validate.buckets {
			h.Buckets[i] = m.validate.buckets[i].Load()
			h.Count += h.Buckets[i]
		}
		h.Sum = time.Duration(m.validate.sum.Load())
		s.Histograms[MetricValidateLatency] = h
	}
	return s
}
