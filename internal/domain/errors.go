package domain

import "errors"

// Failure taxonomy shared across handlers. Authorization and validation
// failures are reported to the invoking chat and recovered; upstream failures
// are recovered at per-cycle granularity.
var (
	// ErrNotAuthorized means the caller lacks the role or identity the
	// operation requires.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrInvalidArgument means the command input was malformed.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUpstreamUnavailable means the calendar feed or a platform call failed.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
