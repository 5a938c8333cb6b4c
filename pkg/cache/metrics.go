package cache

import (
	"sync/atomic"
	"time"
)

// Metrics tracks cache performance statistics
type Metrics struct {
	// Cache hit/miss counters
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
	cacheErrors atomic.Uint64

	// Operation counters
	getOperations       atomic.Uint64
	setOperations       atomic.Uint64
	deleteOperations    atomic.Uint64
	incrementOperations atomic.Uint64

	// Timing metrics (in nanoseconds)
	totalGetLatency    atomic.Uint64
	totalSetLatency    atomic.Uint64
	totalDeleteLatency atomic.Uint64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordCacheHit increments cache hit counter
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Add(1)
}

// RecordCacheMiss increments cache miss counter
func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Add(1)
}

// RecordCacheError increments cache error counter
func (m *Metrics) RecordCacheError() {
	m.cacheErrors.Add(1)
}

// RecordGet records a get operation with latency
func (m *Metrics) RecordGet(duration time.Duration) {
	m.getOperations.Add(1)
	m.totalGetLatency.Add(uint64(duration.Nanoseconds()))
}

// RecordSet records a set operation with latency
func (m *Metrics) RecordSet(duration time.Duration) {
	m.setOperations.Add(1)
	m.totalSetLatency.Add(uint64(duration.Nanoseconds()))
}

// RecordDelete records a delete operation with latency
func (m *Metrics) RecordDelete(duration time.Duration) {
	m.deleteOperations.Add(1)
	m.totalDeleteLatency.Add(uint64(duration.Nanoseconds()))
}

// RecordIncrement increments the increment-operation counter
func (m *Metrics) RecordIncrement() {
	m.incrementOperations.Add(1)
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	CacheHits   uint64 `json:"cache_hits"`
	CacheMisses uint64 `json:"cache_misses"`
	CacheErrors uint64 `json:"cache_errors"`

	GetOperations       uint64 `json:"get_operations"`
	SetOperations       uint64 `json:"set_operations"`
	DeleteOperations    uint64 `json:"delete_operations"`
	IncrementOperations uint64 `json:"increment_operations"`

	AvgGetLatency    time.Duration `json:"avg_get_latency"`
	AvgSetLatency    time.Duration `json:"avg_set_latency"`
	AvgDeleteLatency time.Duration `json:"avg_delete_latency"`

	HitRate float64 `json:"hit_rate"`
}

// GetSnapshot returns a consistent-enough view of the current counters.
// Individual counters are read atomically; the snapshot as a whole is not
// a single atomic read, which is acceptable for advisory metrics.
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		CacheHits:           m.cacheHits.Load(),
		CacheMisses:         m.cacheMisses.Load(),
		CacheErrors:         m.cacheErrors.Load(),
		GetOperations:       m.getOperations.Load(),
		SetOperations:       m.setOperations.Load(),
		DeleteOperations:    m.deleteOperations.Load(),
		IncrementOperations: m.incrementOperations.Load(),
	}

	if s.GetOperations > 0 {
		s.AvgGetLatency = time.Duration(m.totalGetLatency.Load() / s.GetOperations)
	}
	if s.SetOperations > 0 {
		s.AvgSetLatency = time.Duration(m.totalSetLatency.Load() / s.SetOperations)
	}
	if s.DeleteOperations > 0 {
		s.AvgDeleteLatency = time.Duration(m.totalDeleteLatency.Load() / s.DeleteOperations)
	}
	if total := s.CacheHits + s.CacheMisses; total > 0 {
		s.HitRate = float64(s.CacheHits) / float64(total)
	}
	return s
}

// Reset zeroes all counters
func (m *Metrics) Reset() {
	m.cacheHits.Store(0)
	m.cacheMisses.Store(0)
	m.cacheErrors.Store(0)
	m.getOperations.Store(0)
	m.setOperations.Store(0)
	m.deleteOperations.Store(0)
	m.incrementOperations.Store(0)
	m.totalGetLatency.Store(0)
	m.totalSetLatency.Store(0)
	m.totalDeleteLatency.Store(0)
}
