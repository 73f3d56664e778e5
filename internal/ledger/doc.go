// Package ledger tracks session token spend and in-flight delegate calls
// across independently-started processes.
//
// The ledger is the single shared mutable resource in the system. All
// mutations run under the Store's cross-process exclusive lock paired with
// an in-process mutex; the lock is held only for the ledger's own I/O,
// never across a delegate invocation.
//
// Failure policy: every operation degrades fail-open (permissive defaults,
// degraded flag, WARN log, counter) except AcquireSlot, which fails closed.
// Unconstrained concurrency risks resource exhaustion; soft budget
// overspend does not.
package ledger
