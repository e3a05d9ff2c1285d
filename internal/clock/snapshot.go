package clock

import (
	"fmt"
	"sort"
	"strings"
)

// Snapshot records the highest counter a process had accepted from each
// producer at some moment. Thread-safe operations should be handled by
// the caller.
type Snapshot map[string]uint64

// NewSnapshot creates a new empty snapshot.
func NewSnapshot() Snapshot {
	return make(Snapshot)
}

// Get returns the counter for the given producer, or 0 if not present.
func (s Snapshot) Get(producer string) uint64 {
	return s[producer]
}

// Set sets the counter for the given producer.
func (s Snapshot) Set(producer string, counter uint64) {
	s[producer] = counter
}

// Witness raises the counter for the given producer if the observed value
// is higher than what is recorded.
func (s Snapshot) Witness(producer string, counter uint64) {
	if s[producer] < counter {
		s[producer] = counter
	}
}

// Merge merges another snapshot into this one, taking the maximum counter
// for each producer.
func (s Snapshot) Merge(other Snapshot) {
	for producer, counter := range other {
		if s[producer] < counter {
			s[producer] = counter
		}
	}
}

// Copy creates a deep copy of the snapshot.
func (s Snapshot) Copy() Snapshot {
	out := NewSnapshot()
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Relation describes how two snapshots (and hence the events that carry
// them) relate causally.
type Relation int

const (
	// Before indicates this event happened before the other.
	Before Relation = iota
	// After indicates this event happened after the other.
	After
	// Concurrent indicates no causal relation is provable either way.
	Concurrent
	// Equal indicates the snapshots carry identical knowledge.
	Equal
)

// String returns the string representation of a Relation.
func (r Relation) String() string {
	switch r {
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	case Equal:
		return "equal"
	default:
		return "unknown"
	}
}

// Compare compares two snapshots and returns their relationship.
// Returns:
//   - Equal: if all counters are equal
//   - Before: if this snapshot is dominated by other (all counters <=, at least one <)
//   - After: if this snapshot dominates other (all counters >=, at least one >)
//   - Concurrent: if neither dominates
func (s Snapshot) Compare(other Snapshot) Relation {
	if s.Equal(other) {
		return Equal
	}

	producers := make(map[string]bool)
	for p := range s {
		producers[p] = true
	}
	for p := range other {
		producers[p] = true
	}

	var thisLess, thisGreater bool
	for p := range producers {
		thisVal := s[p]
		otherVal := other[p]
		if thisVal < otherVal {
			thisLess = true
		} else if thisVal > otherVal {
			thisGreater = true
		}
	}

	if thisLess && !thisGreater {
		return Before
	}
	if thisGreater && !thisLess {
		return After
	}
	return Concurrent
}

// Equal checks if two snapshots are equal. Absent producers count as 0.
func (s Snapshot) Equal(other Snapshot) bool {
	for p, c := range s {
		if other[p] != c {
			return false
		}
	}
	for p, c := range other {
		if s[p] != c {
			return false
		}
	}
	return true
}

// Dominates returns true if this snapshot dominates (happened after) the other.
func (s Snapshot) Dominates(other Snapshot) bool {
	return s.Compare(other) == After
}

// IsConcurrent returns true if this snapshot is concurrent with the other.
func (s Snapshot) IsConcurrent(other Snapshot) bool {
	return s.Compare(other) == Concurrent
}

// String returns a string representation of the snapshot.
func (s Snapshot) String() string {
	if len(s) == 0 {
		return "{}"
	}

	// Sort for deterministic output
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, s[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
