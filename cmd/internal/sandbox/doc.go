// Package sandbox coordinates readiness across the processing loops.
//
// The controller is a barrier, not a vote: admission proceeds only while
// every registered loop has reported ready inside the readiness window.
// A single drop flips the barrier closed before the drop call returns, so
// a stale-true admit cannot slip through. The hot-path check is one atomic
// load.
//
// It also owns the execution lock serializing entry into the sandboxed
// crypto region, with context-bounded acquisition.
package sandbox
