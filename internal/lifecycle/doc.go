// Package lifecycle composes the ledger, the safety gate, and the retry
// engine into the mandatory call sequence for delegate invocations:
// budget check, slot acquisition, gated retries against the adapter,
// fallback on permanent failure, and unconditional release and usage
// recording on every exit path.
package lifecycle
