package gmpAuth

import (
	"sync/atomic"
	"time"
)

// MetricID indexes an engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricAccountLocked
	MetricAccountUnlocked
	MetricAccountStatusChanged
	MetricMfaRequired
	MetricMfaSuccess
	MetricMfaFailure
	MetricMfaSessionLocked
	MetricMfaEnrolled
	MetricMfaDisabled
	MetricRecoveryCodeUsed
	MetricRecoveryCodeFailed
	MetricRecoveryCodesRegenerated
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricLogout
	MetricTokenRejected
	MetricPasswordChangeSuccess
	MetricPasswordChangeInvalidOld
	MetricPasswordChangeRejected
	MetricPasswordReset
	MetricAssignmentRequested
	MetricAssignmentApproved
	MetricAssignmentRejected
	MetricAssignmentRevoked
	MetricAssignmentExpired
	MetricRoleAssigned
	MetricRoleRemoved
	MetricAuthorizationDenied
	MetricValidateLatency
	metricIDCount
)

// latencyBounds are the inclusive upper bounds of the validate-latency
// buckets; the final bucket catches everything slower.
var latencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const histBucketCount = len(latencyBounds) + 1

// counter sits alone on a cache line so hot login counters do not contend.
type counter struct {
	atomic.Uint64
	_ [56]byte
}

// Metrics is a fixed array of counters plus the validate-latency
// histogram. All methods are safe on a nil receiver.
type Metrics struct {
	enabled  bool
	latency  bool
	counters [metricIDCount]counter
	validate [histBucketCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns counters configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool { return m != nil && m.enabled }

func (m *Metrics) LatencyEnabled() bool { return m != nil && m.latency }

// Inc adds one to counter id.
func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= metricIDCount {
		return
	}
	m.counters[id].Add(1)
}

// Observe records d against id. Only MetricValidateLatency keeps a
// histogram; other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() || id != MetricValidateLatency {
		return
	}
	m.validate[latencyBucket(d)].Add(1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot copies every counter. A disabled Metrics yields empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}
	for id := range m.counters {
		s.Counters[MetricID(id)] = m.counters[id].Load()
	}
	if m.latency {
		buckets := make([]uint64, histBucketCount)
		for i := range m.validate {
			buckets[i] = m.validate[i].Load()
		}
		s.Histograms[MetricValidateLatency] = buckets
	}
	return s
}

func latencyBucket(d time.Duration) int {
	// Whole milliseconds, so 5.4ms still lands in the 5ms bucket.
	d = d.Truncate(time.Millisecond)
	for i, bound := range latencyBounds {
		if d <= bound {
			return i
		}
	}
	return len(latencyBounds)
}

// MetricCount is the number of defined counters, for exporters.
func MetricCount() int {
	return int(metricIDCount)
}
