// Package admission gates every inbound message through the trust checks.
//
// The pipeline is fail-fast and strictly ordered: server lock, token,
// session, sandbox barrier, payload decryption, anomaly detection. The
// first failing check rejects the message; a rejection never affects other
// messages and never takes the process down. An anomaly additionally
// revokes the offending session.
package admission
