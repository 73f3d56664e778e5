// Package resilience classifies delegate failures and drives bounded,
// adaptive retry around delegate attempts. Permanent failures stop the
// loop immediately; timeouts grow the per-attempt deadline; rate limits
// stretch the backoff. A terminal permanent failure is wrapped into a
// FallbackEnvelope that the caller can hand back to the orchestrating
// assistant without leaking the original task content.
package resilience
