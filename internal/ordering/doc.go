// Package ordering is the public query surface of the trusted clock: it
// records local events, ingests remote envelopes after verification, and
// answers happened-before / happened-after / concurrent queries between
// any two accepted events.
//
// Cross-producer precedence is decided from merge-history snapshots, not
// from raw counters: a scalar Lamport counter only promises that causal
// precedence implies a smaller counter, never the converse, so comparing
// raw counters across producers would fabricate ordering.
package ordering
