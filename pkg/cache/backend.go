package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Backend is the minimal key-value surface the Manager requires.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the raw bytes for key, or ErrKeyNotFound on a miss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A ttl <= 0 means the entry does not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// IncrBy adds delta to the integer counter at key, creating it at delta
	// when absent. A key holding non-numeric bytes yields ErrNotCounter.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// Clear removes every entry in this backend/namespace.
	Clear(ctx context.Context) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// now is a small indirection to allow test stubbing of expiry checks.
var now = time.Now

// memoryEntry stores a cached value and its absolute expiration timestamp.
type memoryEntry struct {
	data      []byte
	expiresAt time.Time // zero means no expiration
}

// memoryBackend is a mutex-guarded map cache with per-entry TTL and lazy
// expiry. It is the default backend and the one used by the test suite.
type memoryBackend struct {
	mu    sync.RWMutex
	items map[string]memoryEntry
}

// NewMemoryBackend creates an empty in-process cache backend.
func NewMemoryBackend() Backend {
	return &memoryBackend{items: make(map[string]memoryEntry)}
}

func (b *memoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.items[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	if !e.expiresAt.IsZero() && now().After(e.expiresAt) {
		// Expired; treated as a miss, cleanup deferred to the next Set/Clear.
		return nil, ErrKeyNotFound
	}
	return e.data, nil
}

func (b *memoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var exp time.Time
	if ttl > 0 {
		exp = now().Add(ttl)
	}
	b.items[key] = memoryEntry{data: value, expiresAt: exp}
	return nil
}

func (b *memoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.items, key)
	return nil
}

func (b *memoryBackend) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.items[key]
	if ok && !e.expiresAt.IsZero() && now().After(e.expiresAt) {
		ok = false
	}
	if !ok {
		b.items[key] = memoryEntry{data: []byte(strconv.FormatInt(delta, 10))}
		return delta, nil
	}

	n, err := strconv.ParseInt(string(e.data), 10, 64)
	if err != nil {
		return 0, ErrNotCounter
	}

	n += delta
	b.items[key] = memoryEntry{data: []byte(strconv.FormatInt(n, 10)), expiresAt: e.expiresAt}
	return n, nil
}

func (b *memoryBackend) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = make(map[string]memoryEntry)
	return nil
}

func (b *memoryBackend) Ping(_ context.Context) error { return nil }

func (b *memoryBackend) Close() error { return nil }
