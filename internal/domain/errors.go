package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrInsufficientCapacity means no eligible sender could absorb the
	// campaign's recipients at plan time. Fatal to the start operation.
	ErrInsufficientCapacity = errors.New("insufficient sender capacity")

	// ErrAllSendersExhausted means every sender became ineligible while the
	// campaign was running. The campaign moves to BLOCKED, never silently stalls.
	ErrAllSendersExhausted = errors.New("all senders exhausted")

	// ErrDuplicateJob is an invariant violation: a second job for the same
	// (campaign, recipient) pair. The unique index prevents it; observing it
	// is a programming error.
	ErrDuplicateJob = errors.New("duplicate dispatch job")

	// ErrStaleSignal marks a health or delivery signal for a job or sender
	// that is no longer tracked. Dropped at debug level.
	ErrStaleSignal = errors.New("stale signal")

	// ErrProviderUnavailable is a transient send failure, retried with
	// bounded backoff before the job is failed.
	ErrProviderUnavailable = errors.New("provider unavailable")
)
