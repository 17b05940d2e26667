// Package session implements the Aegis session lifecycle.
//
// A session is the live binding between a validated component token and an
// active TTL window. The state machine per session is
//
//	Pending -> Active -> {Expired, Revoked, Dead}
//
// with all right-hand states terminal. Expiration is enforced lazily: every
// lookup transitions Active sessions past their deadline before answering,
// so correctness never depends on a background sweep (Sweep exists for
// hygiene only).
//
// Terminal sessions are indistinguishable from sessions that never existed
// to every caller except audit logging. Revocation is immediate: once Revoke
// returns, no later lookup observes the session as active.
//
// Persistence lives behind the Store interface. MemoryStore is the default;
// PostgresStore keeps sessions across restarts and leaves terminal rows in
// place for audit.
package session
