package service

import (
	"slices"
	"sync"
	"time"
)

const (
	defaultSlowSync   = 5 * time.Second
	monitorMaxSamples = 1000
)

// SyncMonitor tracks account sync latency and failures. Latency percentiles
// cover the most recent samples only.
type SyncMonitor struct {
	mu            sync.RWMutex
	samples       []time.Duration
	total         int64
	failures      int64
	slow          int64
	slowThreshold time.Duration
	maxSamples    int
}

// NewSyncMonitor creates a monitor. A non-positive slowThreshold selects 5s.
func NewSyncMonitor(slowThreshold time.Duration) *SyncMonitor {
	if slowThreshold <= 0 {
		slowThreshold = defaultSlowSync
	}
	return &SyncMonitor{
		samples:       make([]time.Duration, 0, monitorMaxSamples),
		slowThreshold: slowThreshold,
		maxSamples:    monitorMaxSamples,
	}
}

// Record adds one sync outcome
func (m *SyncMonitor) Record(duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	if err != nil {
		m.failures++
	}
	if duration > m.slowThreshold {
		m.slow++
	}

	m.samples = append(m.samples, duration)
	if len(m.samples) > m.maxSamples {
		m.samples = m.samples[len(m.samples)-m.maxSamples:]
	}
}

// SyncStats summarizes recorded syncs
type SyncStats struct {
	TotalSyncs  int64   `json:"totalSyncs"`
	Failures    int64   `json:"failures"`
	SlowSyncs   int64   `json:"slowSyncs"`
	FailureRate float64 `json:"failureRate"` // percentage
	AvgMs       float64 `json:"avgMs"`
	P95Ms       float64 `json:"p95Ms"`
	P99Ms       float64 `json:"p99Ms"`
}

// Stats returns current statistics
func (m *SyncMonitor) Stats() *SyncStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &SyncStats{
		TotalSyncs: m.total,
		Failures:   m.failures,
		SlowSyncs:  m.slow,
	}
	if m.total > 0 {
		stats.FailureRate = float64(m.failures) / float64(m.total) * 100
	}
	if len(m.samples) == 0 {
		return stats
	}

	sorted := slices.Clone(m.samples)
	slices.Sort(sorted)

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	stats.AvgMs = float64(total.Milliseconds()) / float64(len(sorted))
	stats.P95Ms = float64(percentile(sorted, 0.95).Milliseconds())
	stats.P99Ms = float64(percentile(sorted, 0.99).Milliseconds())

	return stats
}

// Reset clears all recorded syncs
func (m *SyncMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples = m.samples[:0]
	m.total = 0
	m.failures = 0
	m.slow = 0
}

// percentile picks the nearest-rank value from an ascending slice
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := min(int(float64(len(sorted))*p), len(sorted)-1)
	return sorted[idx]
}
