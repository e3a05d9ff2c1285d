package clock

import "sync"

// Lamport is a per-process scalar logical clock. The counter starts at 0
// and only ever increases; Tick and Observe are the only mutations.
// Safe for concurrent use.
type Lamport struct {
	mu      sync.Mutex
	counter uint64
}

// NewLamport creates a new logical clock with the counter at 0.
func NewLamport() *Lamport {
	return &Lamport{}
}

// Tick increments the counter and returns the new value.
func (l *Lamport) Tick() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counter++
	return l.counter
}

// Observe folds a remote counter into the local clock using the Lamport
// merge rule: the counter becomes max(local, remote) + 1, so the clock
// always advances past every value it has seen. Returns the new counter.
func (l *Lamport) Observe(remote uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if remote > l.counter {
		l.counter = remote
	}
	l.counter++
	return l.counter
}

// Now returns the current counter without advancing it.
func (l *Lamport) Now() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counter
}
