// Package clock provides the Lamport logical clock and the merge-history
// snapshots used to decide causal ordering between events. The scalar
// clock captures local time advancement; snapshots capture the highest
// per-producer counters a process had accepted at a given moment, which
// is what makes cross-producer happened-before decisions sound.
package clock
