package store

import "errors"

// Sentinel errors forming the durable-layer failure taxonomy
var (
	// ErrLookupFailed wraps a storage failure during a single-entity read.
	// Not-found is never an error; it is a nil result.
	ErrLookupFailed = errors.New("entity lookup failed")

	// ErrNotConfigured indicates structural misuse, such as a Manager built
	// without a database or over a type with no table binding. Always fatal.
	ErrNotConfigured = errors.New("store manager not configured")

	// ErrIntegrity marks a constraint violation at the durable layer
	ErrIntegrity = errors.New("integrity constraint violated")

	// ErrUnexpected marks any other durable-layer failure
	ErrUnexpected = errors.New("unexpected storage failure")

	// ErrValidation marks malformed caller input, such as an unknown field
	// name in a partial update. Handled locally, never logged as an error.
	ErrValidation = errors.New("validation rejected")
)

// IsLookupFailure checks if an error is ErrLookupFailed
func IsLookupFailure(err error) bool {
	return errors.Is(err, ErrLookupFailed)
}

// IsNotConfigured checks if an error is ErrNotConfigured
func IsNotConfigured(err error) bool {
	return errors.Is(err, ErrNotConfigured)
}

// IsIntegrity checks if an error is ErrIntegrity
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrIntegrity)
}

// IsUnexpected checks if an error is ErrUnexpected
func IsUnexpected(err error) bool {
	return errors.Is(err, ErrUnexpected)
}

// IsValidation checks if an error is ErrValidation
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
