// Package trust authenticates envelopes against registered producer
// identities and guards against counter rollback. Signature schemes are
// pluggable capabilities: the anchor only ever sees the Verifier
// interface, never concrete key material.
package trust
