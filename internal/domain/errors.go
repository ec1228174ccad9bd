package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Handlers translate these to HTTP statuses; the ingest
// path logs them and isolates failures per (asset, metric).
var (
	// ErrValidation marks malformed or out-of-range request input.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks an unknown asset for the requested metric.
	ErrNotFound = errors.New("not found")

	// ErrProviderTransient marks provider 5xx/429/network failures.
	// Retried internally; surfaces as 503 only when retries exhaust
	// on a user-facing path.
	ErrProviderTransient = errors.New("transient provider error")

	// ErrProviderPermanent marks provider 4xx (other than 429) or
	// schema mismatches. Never retried.
	ErrProviderPermanent = errors.New("permanent provider error")

	// ErrStorage marks database failures.
	ErrStorage = errors.New("storage error")
)

// Validationf builds a validation error with a per-field message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// TransientProvider wraps err as retryable.
func TransientProvider(err error) error {
	return fmt.Errorf("%w: %w", ErrProviderTransient, err)
}

// PermanentProvider wraps err as non-retryable.
func PermanentProvider(err error) error {
	return fmt.Errorf("%w: %w", ErrProviderPermanent, err)
}

// StorageErr wraps a database failure.
func StorageErr(err error) error {
	return fmt.Errorf("%w: %w", ErrStorage, err)
}
