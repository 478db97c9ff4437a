package broker

import "errors"

// Error kinds visible to callers. The HTTP layer owns the mapping to status
// codes.
var (
	// ErrNotFound: unknown engine or unknown/terminal job.
	ErrNotFound = errors.New("not found")

	// ErrForbidden: client secret does not match the registration.
	ErrForbidden = errors.New("forbidden")

	// ErrBusy: the active-session cap has been reached.
	ErrBusy = errors.New("busy")

	// ErrUpstream: the registry's backing store failed.
	ErrUpstream = errors.New("registry unavailable")

	// ErrTimedOut: an acquire deadline passed with no matching job.
	ErrTimedOut = errors.New("timed out")

	// ErrSessionGone: the session is terminal or its consumer went away.
	ErrSessionGone = errors.New("session gone")
)
