// Package guard implements the safety gate: the sole path through which
// free-form content may cross the trust boundary to a delegate agent.
//
// The gate is a fixed-order pipeline (size cap, origin policy, directory
// allowlist, file-pattern blocklist, secret scan, policy application) in
// which every stage may short-circuit to a terminal rejection. The outcome
// is always exactly one of Passed, Redacted, or Rejected.
package guard
