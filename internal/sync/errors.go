package sync

import "errors"

// Failure taxonomy. ErrConfigurationMissing and ErrNotAuthenticated require
// external remediation and are never retried; everything else is absorbed by
// the backoff policy.
var (
	// ErrAlreadyInProgress rejects a sync while another attempt is running.
	// The ongoing attempt is unaffected.
	ErrAlreadyInProgress = errors.New("sync already running")

	// ErrConfigurationMissing aborts a sync when no configuration is loadable.
	ErrConfigurationMissing = errors.New("sync configuration missing")

	// ErrNotAuthenticated aborts a sync when the remote-auth precondition is
	// unmet. Re-authentication is a user action, not a matter of time.
	ErrNotAuthenticated = errors.New("not authenticated with the remote calendar")

	// ErrCancelled stops a retry loop after Cancel was called.
	ErrCancelled = errors.New("sync cancelled")
)

// NetworkError wraps a failure of the remote fetch step. Retryable.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// PersistenceError wraps a failure of the snapshot write step. Retryable.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return "persistence: " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }

// Retryable reports whether a failed attempt may be tried again. A failure is
// retryable unless it requires external remediation (missing configuration,
// missing authentication) or the caller has already moved on (cancelled,
// concurrent attempt).
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConfigurationMissing) ||
		errors.Is(err, ErrNotAuthenticated) ||
		errors.Is(err, ErrAlreadyInProgress) ||
		errors.Is(err, ErrCancelled) {
		return false
	}
	return true
}

// ShouldRetry combines error classification with the remaining attempt
// budget. Attempt numbers are 1-based.
func ShouldRetry(err error, attempt, maxRetries int) bool {
	return Retryable(err) && attempt <= maxRetries
}
