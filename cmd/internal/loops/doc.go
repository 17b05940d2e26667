// Package loops feeds the processing loops through the admission pipeline.
//
// Each adapter owns one loop's bounded inbound queue and its readiness
// registration with the sandbox controller. A rejected message is logged
// and dropped; it never stops the loop. The external loop additionally has
// a websocket gateway for inbound envelopes.
package loops
