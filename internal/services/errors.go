package services

import "errors"

var (
	// ErrQuotaExceeded rejects a run creation that would pass the per-day cap.
	ErrQuotaExceeded = errors.New("quota exceeded (per-day)")

	// ErrConcurrencyExceeded rejects a run creation while the user already
	// has max_concurrent_runs runs in queued or running.
	ErrConcurrencyExceeded = errors.New("quota exceeded (concurrent)")
)
