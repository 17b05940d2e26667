// Package token is the Aegis token authority: it issues and validates the
// component tokens that every admitted message must carry.
//
// Wire format (base64url, no padding):
//
//	nonce(24) || xchacha20poly1305(payload) || hmac-sha256(nonce || ciphertext)
//
// The payload is a small JSON envelope {identity, issued_at, expires_at}
// encrypted under the encryption subkey; the trailing MAC is computed under
// the signing subkey. Encrypt-then-MAC: Validate checks the MAC in constant
// time before touching the ciphertext.
//
// Design goals:
//   - Issuance is pure computation; the authority retains no per-token state.
//     Freshness and revocation live in the session manager, never here.
//   - Validate runs on every message. There is no "already validated" cache.
//   - Failure modes are distinguishable: ErrMalformed, ErrSignatureMismatch,
//     ErrExpired.
package token
