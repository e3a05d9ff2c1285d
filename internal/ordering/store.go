package ordering

import (
	"sync"

	"trustclock/internal/clock"
	"trustclock/internal/envelope"
)

// Accepted is an envelope that passed verification, together with the
// merge-history snapshot taken when it was created or merged. Immutable
// once stored.
type Accepted struct {
	Envelope *envelope.Envelope
	History  clock.Snapshot
}

// store holds accepted envelopes keyed by (producer, counter). Rejected
// envelopes are never stored. Thread-safe.
type store struct {
	mu   sync.RWMutex
	data map[envelope.Key]*Accepted
}

func newStore() *store {
	return &store{data: make(map[envelope.Key]*Accepted)}
}

// put stores an accepted envelope. Returns false if the key is already
// present; an accepted envelope is terminal and never replaced.
func (s *store) put(env *envelope.Envelope, history clock.Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := env.Key()
	if _, exists := s.data[key]; exists {
		return false
	}
	s.data[key] = &Accepted{Envelope: env, History: history}
	return true
}

// get returns the accepted record for a key, or nil.
func (s *store) get(key envelope.Key) *Accepted {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[key]
}

// len returns the number of accepted envelopes.
func (s *store) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// all returns the accepted records in unspecified order.
func (s *store) all() []*Accepted {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Accepted, 0, len(s.data))
	for _, a := range s.data {
		out = append(out, a)
	}
	return out
}
