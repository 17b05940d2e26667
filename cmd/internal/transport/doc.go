// Package transport is the TLS-facing edge of the engine: the admission
// HTTP server with hot credential reload and fail-closed locking, and the
// client that mirrors the encode path for outbound messages.
package transport
