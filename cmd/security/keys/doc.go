// Package keys owns the root secret and derives purpose-scoped subkeys for Aegis.
//
// It is the single source of truth for key material:
// - The root secret is held in memory only, never logged or serialized.
// - Subkeys are derived with HKDF-SHA256, one per purpose tag, and cached
//   for the process lifetime (derivation is deterministic per root+purpose).
// - Everything above this package (token authority, admission, transport)
//   receives derived subkeys, never the root secret itself.
//
// Startup policy:
//   - A missing or undersized root secret is fatal. NewStore returns
//     ErrMissingRootSecret and the process must not reach a ready state.
package keys
