// Package heartbeat probes active sessions on a fixed cadence and reports
// their health to the session manager.
//
// A probe that errors or exceeds its timeout classifies the session as
// degraded. Consecutive degraded results past the configured threshold
// escalate to dead, which terminates the session. The monitor is the only
// component that reports health; loops and the admission pipeline never do.
package heartbeat
