package token

import "errors"

// Public, stable errors for callers.
var (
	// ErrMalformed covers structurally invalid tokens: bad encoding, wrong
	// length, failed decryption, unparsable payload, implausible issue time.
	ErrMalformed = errors.New("token malformed")

	// ErrSignatureMismatch means the MAC did not verify under the signing subkey.
	ErrSignatureMismatch = errors.New("token signature mismatch")

	// ErrExpired means the token verified but its validity window has passed.
	ErrExpired = errors.New("token expired")

	// ErrConfig is returned for invalid authority configuration.
	ErrConfig = errors.New("invalid token authority config")
)
