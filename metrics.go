package goSession

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one session counter or histogram.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricRegisterSuccess
	MetricRegisterFailure
	// MetricRefreshRequested counts Refresh calls that reached the flight
	// group, including callers that joined an in-flight renewal.
	MetricRefreshRequested
	// MetricRefreshAttempt counts network renewals.
	MetricRefreshAttempt
	MetricRefreshSuccess
	MetricRefreshFailure
	// MetricRefreshSkipped counts 401s with no refresh token stored.
	MetricRefreshSkipped
	MetricAuthExpired
	MetricRequestRetried
	MetricRequestFailure
	MetricLogout
	MetricOrganizationSelected
	MetricProjectSelected
	MetricAutoSelected
	// MetricStaleResultDiscarded counts list fetches dropped by the
	// generation guard.
	MetricStaleResultDiscarded
	MetricRequestLatency
	MetricRefreshLatency
	metricIDCount
)

// LatencyBounds are the inclusive upper bounds of the latency buckets. A
// final overflow bucket catches everything slower.
var LatencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const (
	histBucketCount = len(LatencyBounds) + 1
	cacheLineSize   = 64
)

// latencyIDs lists the histogram metrics in slot order.
var latencyIDs = [...]MetricID{MetricRequestLatency, MetricRefreshLatency}

type latencyHistogram struct {
	buckets  [histBucketCount]atomic.Uint64
	sumNanos atomic.Int64
}

type paddedCounter struct {
	atomic.Uint64
	_ [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters and fixed-bucket latency histograms.
//
// A nil *Metrics is valid; every method is a no-op.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	latency       [len(latencyIDs)]latencyHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
// Histograms holds per-bucket (not cumulative) counts; LatencySums holds the
// total observed duration per histogram.
type MetricsSnapshot struct {
	Counters    map[MetricID]uint64
	Histograms  map[MetricID][]uint64
	LatencySums map[MetricID]time.Duration
}

// NewMetrics returns a registry honouring cfg. A disabled registry records nothing.
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

// Inc adds one to the counter for id. Histogram IDs are ignored.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount || isHistogram(id) {
		return
	}
	m.counters[id].Add(1)
}

// Observe records d in the histogram for id. Only latency IDs keep
// histograms.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency {
		return
	}
	slot, ok := histogramSlot(id)
	if !ok {
		return
	}
	h := &m.latency[slot]
	h.buckets[bucketIndex(d)].Add(1)
	h.sumNanos.Add(int64(d))
}

// Value returns the counter for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot copies the current values. Disabled metrics yield empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:    map[MetricID]uint64{},
		Histograms:  map[MetricID][]uint64{},
		LatencySums: map[MetricID]time.Duration{},
	}
	if m == nil || !m.enabled {
		return s
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if !isHistogram(id) {
			s.Counters[id] = m.counters[id].Load()
		}
	}
	if !m.enableLatency {
		return s
	}
	for slot, id := range latencyIDs {
		h := &m.latency[slot]
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = h.buckets[i].Load()
		}
		s.Histograms[id] = buckets
		s.LatencySums[id] = time.Duration(h.sumNanos.Load())
	}
	return s
}

func histogramSlot(id MetricID) (int, bool) {
	for slot, hid := range latencyIDs {
		if hid == id {
			return slot, true
		}
	}
	return 0, false
}

func isHistogram(id MetricID) bool {
	_, ok := histogramSlot(id)
	return ok
}

func bucketIndex(d time.Duration) int {
	for i, bound := range LatencyBounds {
		if d <= bound {
			return i
		}
	}
	return len(LatencyBounds)
}
