package domain

import "errors"

var (
	// ErrValidation rejects bad input to Open; the position is not created.
	ErrValidation = errors.New("invalid position parameters")

	// ErrNotFound is returned for operations on an unknown position id.
	ErrNotFound = errors.New("position not found")

	// ErrAlreadyClosed is returned for operations on a closed position. It is
	// expected under races between a manual close and a loop-triggered close.
	ErrAlreadyClosed = errors.New("position already closed")

	// ErrCollectorTimeout marks a snapshot fetch that did not complete within
	// its budget; the affected symbol is skipped for the current tick.
	ErrCollectorTimeout = errors.New("collector timed out")

	// ErrAdvisorTimeout marks an advisor consultation that did not complete
	// within its budget; the recommendation is treated as hold.
	ErrAdvisorTimeout = errors.New("advisor timed out")

	// ErrStaleSnapshot is returned by collectors whose latest data for a
	// symbol is older than the configured staleness bound.
	ErrStaleSnapshot = errors.New("snapshot is stale")
)
