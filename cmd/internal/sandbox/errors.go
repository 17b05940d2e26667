package sandbox

import "errors"

var (
	// ErrSyncTimeout is returned when lock acquisition exceeds its bound.
	ErrSyncTimeout = errors.New("sandbox sync timeout")

	// ErrUnknownLoop is returned for readiness reports from unregistered loops.
	ErrUnknownLoop = errors.New("unknown loop")

	// ErrConfig is returned for invalid sandbox configuration.
	ErrConfig = errors.New("invalid sandbox config")
)
