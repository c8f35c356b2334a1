package domain

import "errors"

// Not-found errors, surfaced to callers without retry.
var (
	ErrIncidentNotFound   = errors.New("incident not found")
	ErrTechnicianNotFound = errors.New("technician not found")
	ErrAttemptNotFound    = errors.New("call attempt not found")
	ErrTimerNotFound      = errors.New("escalation timer not found")
)

// Routing errors.
var (
	// ErrAttemptInFlight means a non-terminal attempt already exists for the
	// incident. Benign for internal callers, 409 for external ones.
	ErrAttemptInFlight = errors.New("call attempt already in flight")

	// ErrStaleResponse means the attempt was already terminally resolved with
	// a different outcome. The first terminal response wins; later ones are
	// recorded as informational events only.
	ErrStaleResponse = errors.New("attempt already resolved with different outcome")

	// ErrInvalidTransition means the incident state machine rejected the
	// requested transition. Requires operator intervention, never retried.
	ErrInvalidTransition = errors.New("invalid incident status transition")
)
