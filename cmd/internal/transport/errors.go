package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrBadCredentials is returned when a credential bundle does not parse
	// as a matching certificate/key pair. The previous bundle stays live.
	ErrBadCredentials = errors.New("bad credential bundle")

	// ErrNoCredentials is returned when TLS is required but no bundle has
	// been loaded.
	ErrNoCredentials = errors.New("no credential bundle loaded")

	// ErrClientLocked short-circuits sends while the client believes the
	// server is locked.
	ErrClientLocked = errors.New("client locked")

	// ErrConfig is returned for invalid transport configuration.
	ErrConfig = errors.New("invalid transport config")
)

// RejectedError carries the server's admission rejection back to the caller.
type RejectedError struct {
	Status int
	Code   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected: %s (http %d)", e.Code, e.Status)
}
