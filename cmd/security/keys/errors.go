package keys

import "errors"

// Public, stable errors for callers.
var (
	// ErrMissingRootSecret is fatal at startup: no key material, no trust engine.
	ErrMissingRootSecret = errors.New("root secret missing or too short")

	// ErrUnknownPurpose is returned for purpose tags this store does not derive.
	ErrUnknownPurpose = errors.New("unknown key purpose")
)
