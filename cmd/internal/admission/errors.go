package admission

import (
	"errors"
	"fmt"
)

var (
	// ErrServerLocked rejects everything while the server is locked.
	ErrServerLocked = errors.New("server locked")

	// ErrNoActiveSession rejects messages without a live session.
	ErrNoActiveSession = errors.New("no active session")

	// ErrSandboxNotSynchronized rejects messages while the loop barrier is open.
	ErrSandboxNotSynchronized = errors.New("sandbox not synchronized")

	// ErrDecryptionFailed rejects messages whose payload does not open.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrAnomalyDetected rejects messages the detector flags; the bound
	// session is revoked as a side effect.
	ErrAnomalyDetected = errors.New("anomaly detected")

	// ErrConfig is returned for invalid pipeline construction.
	ErrConfig = errors.New("invalid admission config")
)

// InvalidTokenError wraps the token-layer failure so callers can
// distinguish malformed, forged, and expired credentials.
type InvalidTokenError struct {
	Kind error
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("invalid token: %v", e.Kind)
}

func (e *InvalidTokenError) Unwrap() error { return e.Kind }
