package cache

import "errors"

// Sentinel errors for cache operations
var (
	// ErrCacheDisabled is returned when attempting operations on a disabled cache
	ErrCacheDisabled = errors.New("cache is disabled")

	// ErrBackendNotInitialized is returned when the cache backend is nil
	ErrBackendNotInitialized = errors.New("cache backend not initialized")

	// ErrKeyNotFound is returned when a cache key doesn't exist (not an error condition)
	ErrKeyNotFound = errors.New("cache key not found")

	// ErrBackendFailure is returned when the backend itself fails (connection loss,
	// protocol error). Callers are expected to degrade to the durable store.
	ErrBackendFailure = errors.New("cache backend failure")

	// ErrConnectionFailed is returned when the cache connection cannot be established
	ErrConnectionFailed = errors.New("cache connection failed")

	// ErrNotCounter is returned by a backend when an increment targets a key
	// holding a non-numeric value
	ErrNotCounter = errors.New("cache key does not hold a counter")

	// ErrSerializationFailed is returned when encoding/decoding a cached value fails
	ErrSerializationFailed = errors.New("cache serialization failed")
)

// IsCacheDisabled checks if an error is ErrCacheDisabled
func IsCacheDisabled(err error) bool {
	return errors.Is(err, ErrCacheDisabled)
}

// IsKeyNotFound checks if an error is ErrKeyNotFound
func IsKeyNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsBackendFailure reports whether an error came from the backend rather than
// from the caller's compute function or a plain miss.
func IsBackendFailure(err error) bool {
	return errors.Is(err, ErrBackendFailure) ||
		errors.Is(err, ErrCacheDisabled) ||
		errors.Is(err, ErrBackendNotInitialized) ||
		errors.Is(err, ErrConnectionFailed)
}

// IsConnectionFailed checks if an error is ErrConnectionFailed
func IsConnectionFailed(err error) bool {
	return errors.Is(err, ErrConnectionFailed)
}
