// Package secrets provides secret detection and redaction for content
// headed to external delegate agents.
//
// All outbound content passes through a Scrubber before leaving the trust
// boundary. Findings preserve rule IDs, line numbers, and a short sample
// (8-char prefix plus "***"); the raw match is never retained, logged, or
// serialized.
//
// Two engines implement the Scrubber interface: the built-in fixed battery
// (regexp-based, always on) and an optional gitleaks deep scan layered
// behind it.
package secrets
