package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Manager provides uniform access to a pluggable cache backend. Values are
// serialized with msgpack; counters are stored as raw decimal strings so the
// backend can increment them natively.
//
// A Manager is safe to share across repositories and concurrent callers as
// long as its Backend is.
type Manager struct {
	config  *Config
	backend Backend
	metrics *Metrics
}

// NewManager creates a cache manager with the backend named in the config.
func NewManager(config *Config) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}

	manager := &Manager{
		config:  config,
		metrics: NewMetrics(),
	}

	if config.Enabled {
		switch config.Backend {
		case BackendRedis:
			manager.backend = newRedisBackend(config)
		default:
			manager.backend = NewMemoryBackend()
		}
	}

	return manager, nil
}

// NewManagerWithBackend creates a cache manager over a caller-supplied
// backend. Intended for tests and for embedding custom backends.
func NewManagerWithBackend(config *Config, backend Backend) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}
	return &Manager{config: config, backend: backend, metrics: NewMetrics()}, nil
}

// Config returns the manager's configuration
func (m *Manager) Config() *Config {
	return m.config
}

// DefaultTTL returns the TTL applied by Set and GetOrSet when none is given.
func (m *Manager) DefaultTTL() time.Duration {
	return m.config.ttl()
}

// checkBackend validates that the cache is enabled and the backend is present.
func (m *Manager) checkBackend() error {
	if !m.config.Enabled {
		return ErrCacheDisabled
	}
	if m.backend == nil {
		return ErrBackendNotInitialized
	}
	return nil
}

// Get retrieves a value from cache and decodes it into dst, which must be a
// pointer. Returns ErrKeyNotFound on a miss.
func (m *Manager) Get(ctx context.Context, key string, dst any) error {
	if err := m.checkBackend(); err != nil {
		return err
	}

	start := time.Now()
	data, err := m.backend.Get(ctx, key)
	m.metrics.RecordGet(time.Since(start))

	if err != nil {
		if IsKeyNotFound(err) {
			m.metrics.RecordCacheMiss()
		} else {
			m.metrics.RecordCacheError()
		}
		return err
	}

	if err := msgpack.Unmarshal(data, dst); err != nil {
		m.metrics.RecordCacheError()
		return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}

	m.metrics.RecordCacheHit()
	return nil
}

// Set stores a value with the default TTL.
func (m *Manager) Set(ctx context.Context, key string, value any) error {
	return m.SetWithTTL(ctx, key, value, m.config.ttl())
}

// SetWithTTL stores a value with a custom TTL.
func (m *Manager) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := m.checkBackend(); err != nil {
		return err
	}

	data, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}

	start := time.Now()
	err = m.backend.Set(ctx, key, data, ttl)
	m.metrics.RecordSet(time.Since(start))
	if err != nil {
		m.metrics.RecordCacheError()
		return err
	}
	return nil
}

// Delete removes a key from cache. Deleting a missing key is a no-op.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if err := m.checkBackend(); err != nil {
		return err
	}

	start := time.Now()
	err := m.backend.Delete(ctx, key)
	m.metrics.RecordDelete(time.Since(start))
	if err != nil {
		m.metrics.RecordCacheError()
		return err
	}
	return nil
}

// Increment atomically adds delta to the counter at key and returns the new
// value. A missing key is created at delta. A key holding a non-numeric value
// is silently re-initialized to 1. Counters here are advisory cache-version
// markers: two concurrent first increments may both observe the reset and
// both return 1, and that race is accepted.
func (m *Manager) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	if err := m.checkBackend(); err != nil {
		return 0, err
	}
	m.metrics.RecordIncrement()

	n, err := m.backend.IncrBy(ctx, key, delta)
	if err == nil {
		return n, nil
	}

	// Self-healing reset. Counters bypass the msgpack codec: raw decimal
	// bytes keep the backend's native INCR usable.
	if setErr := m.backend.Set(ctx, key, []byte("1"), 0); setErr != nil {
		m.metrics.RecordCacheError()
		return 0, setErr
	}
	return 1, nil
}

// CounterValue reads the counter at key, returning 0 when it is absent or
// does not parse as an integer.
func (m *Manager) CounterValue(ctx context.Context, key string) (int64, error) {
	if err := m.checkBackend(); err != nil {
		return 0, err
	}

	data, err := m.backend.Get(ctx, key)
	if err != nil {
		if IsKeyNotFound(err) {
			return 0, nil
		}
		m.metrics.RecordCacheError()
		return 0, err
	}

	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Clear removes all entries for this backend. Used by tests and admin
// tooling only; repository logic never calls it.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.checkBackend(); err != nil {
		return err
	}
	return m.backend.Clear(ctx)
}

// Ping tests the cache connection. A disabled cache pings successfully.
func (m *Manager) Ping(ctx context.Context) error {
	if !m.config.Enabled {
		return nil
	}
	if m.backend == nil {
		return ErrBackendNotInitialized
	}
	return m.backend.Ping(ctx)
}

// Close releases the backend's resources
func (m *Manager) Close() error {
	if m.backend != nil {
		return m.backend.Close()
	}
	return nil
}

// GetMetrics returns current cache performance metrics
func (m *Manager) GetMetrics() MetricsSnapshot {
	if m.metrics == nil {
		return MetricsSnapshot{}
	}
	return m.metrics.GetSnapshot()
}

// ResetMetrics resets all performance metrics counters
func (m *Manager) ResetMetrics() {
	if m.metrics != nil {
		m.metrics.Reset()
	}
}

// GetOrSet returns the cached value at key, or invokes compute exactly once
// on a miss, stores the result with ttl, and returns it.
//
// Error semantics: a backend read failure (not a miss) is returned as an
// ErrBackendFailure-wrapped error so callers can degrade to an uncached
// fetch; a compute failure propagates unwrapped; a store failure after a
// successful compute is absorbed (recorded in metrics) since the computed
// value is still valid.
func GetOrSet[T any](ctx context.Context, m *Manager, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	var cached T
	err := m.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !IsKeyNotFound(err) {
		var zero T
		if IsBackendFailure(err) {
			return zero, err
		}
		return zero, fmt.Errorf("%w: %v", ErrBackendFailure, err)
	}

	value, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	if ttl <= 0 {
		ttl = m.config.ttl()
	}
	_ = m.SetWithTTL(ctx, key, value, ttl) // best effort, metrics capture failures

	return value, nil
}
