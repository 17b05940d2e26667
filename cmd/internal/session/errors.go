package session

import "errors"

var (
	// ErrUnknownSession is returned when the session ID matches nothing active.
	// Terminal and never-existed sessions are deliberately indistinguishable.
	ErrUnknownSession = errors.New("unknown session")

	// ErrNotActive is returned for operations that require an Active session
	// (renewal, touch) attempted against a non-Active one.
	ErrNotActive = errors.New("session not active")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid session config")
)
