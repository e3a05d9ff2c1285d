package trust

import (
	"bytes"
	"fmt"
	"sync"

	"trustclock/internal/clock"
	"trustclock/internal/envelope"
)

// Anchor verifies that a claimed (producer, counter, signature) triple is
// authentic and that no producer's counter ever regresses. The registry
// is append-only for the life of the session; it is populated by the
// module-admission system, never mutated from inside.
type Anchor struct {
	mu           sync.Mutex
	registry     map[envelope.ProcessID]Verifier
	lastAccepted clock.Snapshot
}

// NewAnchor creates an empty trust anchor.
func NewAnchor() *Anchor {
	return &Anchor{
		registry:     make(map[envelope.ProcessID]Verifier),
		lastAccepted: clock.NewSnapshot(),
	}
}

// Register binds a verification key to a producer identity. Registering
// the same key again is a no-op; rebinding a producer to a different key
// fails with ErrDuplicateProducer.
func (a *Anchor) Register(producer envelope.ProcessID, verifier Verifier) error {
	if producer == "" {
		return fmt.Errorf("empty producer id")
	}
	if verifier == nil {
		return fmt.Errorf("nil verifier for producer %s", producer)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.registry[producer]; ok {
		if existing.Scheme() == verifier.Scheme() && bytes.Equal(existing.Bytes(), verifier.Bytes()) {
			return nil
		}
		return fmt.Errorf("producer %s: %w", producer, ErrDuplicateProducer)
	}
	a.registry[producer] = verifier
	return nil
}

// Authenticate checks an envelope's producer binding and signature
// without touching the anti-replay table. Signature checks are pure CPU
// work and happen outside the lock.
func (a *Anchor) Authenticate(env *envelope.Envelope) error {
	if env == nil {
		return fmt.Errorf("nil envelope")
	}

	a.mu.Lock()
	verifier, ok := a.registry[env.Producer]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("producer %s: %w", env.Producer, ErrUnknownProducer)
	}

	if err := verifier.Verify(env.SigningBytes(), env.Signature); err != nil {
		return fmt.Errorf("producer %s counter %d: %w", env.Producer, env.Counter, err)
	}
	return nil
}

// Admit checks an authenticated envelope's counter freshness and, on
// success, advances the producer's last-accepted counter. The check and
// the update happen under one lock so two envelopes with the same counter
// cannot both pass.
func (a *Anchor) Admit(env *envelope.Envelope) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if env.Counter <= a.lastAccepted.Get(string(env.Producer)) {
		return fmt.Errorf("producer %s counter %d (last accepted %d): %w",
			env.Producer, env.Counter, a.lastAccepted.Get(string(env.Producer)), ErrClockRegression)
	}
	a.lastAccepted.Set(string(env.Producer), env.Counter)
	return nil
}

// Verify checks an envelope's authenticity and counter freshness in one
// step. Callers that need the admission to be atomic with other state
// (the ordering service's clock merge) call Authenticate and Admit
// separately and hold their own lock around Admit.
func (a *Anchor) Verify(env *envelope.Envelope) error {
	if err := a.Authenticate(env); err != nil {
		return err
	}
	return a.Admit(env)
}

// Witness marks a locally produced counter as accepted without a
// signature check. A process trusts its own ticks; recording them keeps
// the anti-replay table complete if its own envelopes are ever echoed
// back to it.
func (a *Anchor) Witness(producer envelope.ProcessID, counter uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastAccepted.Witness(string(producer), counter)
}

// LastAccepted returns a copy of the per-producer highest accepted
// counters.
func (a *Anchor) LastAccepted() clock.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastAccepted.Copy()
}

// Registered reports whether a producer has a key bound.
func (a *Anchor) Registered(producer envelope.ProcessID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.registry[producer]
	return ok
}
