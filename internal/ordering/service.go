package ordering

import (
	"errors"
	"fmt"
	"sync"

	"trustclock/internal/clock"
	"trustclock/internal/envelope"
	"trustclock/internal/trust"
)

// ErrUnknownEvent means an ordering query referenced an envelope that was
// never accepted here; without its merge history there is nothing sound
// to say about it.
var ErrUnknownEvent = errors.New("unknown event")

// Service records local events, ingests remote envelopes and answers
// ordering queries. One Service instance belongs to one process identity.
// Safe for concurrent use.
type Service struct {
	self   envelope.ProcessID
	signer trust.Signer

	// mu serializes admission: a local tick and its history snapshot
	// form one step, and so do a remote admit and the clock merge. A
	// remote envelope admitted while a local event is being signed must
	// not leak into that event's history.
	mu      sync.Mutex
	clk     *clock.Lamport
	anchor  *trust.Anchor
	store   *store
	metrics *Metrics
}

// NewService creates the ordering service for the identity behind signer.
// The process's own verification key is registered with the anchor so
// envelopes it produced verify anywhere the same registry is shared, and
// echoes of its own events are caught by the anti-replay table.
func NewService(signer trust.Signer, opts ...Option) (*Service, error) {
	if signer == nil {
		return nil, fmt.Errorf("nil signer")
	}

	s := &Service{
		self:   signer.Verifier().ProcessID(),
		signer: signer,
		clk:    clock.NewLamport(),
		anchor: trust.NewAnchor(),
		store:  newStore(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.anchor.Register(s.self, signer.Verifier()); err != nil {
		return nil, fmt.Errorf("register own identity: %w", err)
	}
	return s, nil
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics attaches envelope acceptance metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// ID returns the process identity this service records events for.
func (s *Service) ID() envelope.ProcessID {
	return s.self
}

// Verifier returns the verification capability for this process's own
// identity, for handing to peers' registries.
func (s *Service) Verifier() trust.Verifier {
	return s.signer.Verifier()
}

// Now returns the current local logical time.
func (s *Service) Now() uint64 {
	return s.clk.Now()
}

// Register binds a remote producer's verification key. Append-only;
// rebinding a producer to a different key fails with
// trust.ErrDuplicateProducer.
func (s *Service) Register(producer envelope.ProcessID, verifier trust.Verifier) error {
	return s.anchor.Register(producer, verifier)
}

// RecordLocal ticks the clock, signs a new envelope over the payload
// digest and stores it as accepted. The returned envelope is immutable
// and ready for transport.
func (s *Service) RecordLocal(digest envelope.Digest) (*envelope.Envelope, error) {
	// Tick and history snapshot are one admission step: the snapshot
	// records exactly what this process had accepted when the event was
	// created. Own ticks are trusted without verification, but they still
	// advance the anti-replay table so an echoed copy of this envelope is
	// rejected.
	s.mu.Lock()
	counter := s.clk.Tick()
	s.anchor.Witness(s.self, counter)
	history := s.anchor.LastAccepted()
	history.Set(string(s.self), counter)
	s.mu.Unlock()

	// The envelope's fields are fixed now; signing is pure CPU work and
	// stays outside the admission lock.
	sig, err := s.signer.Sign(envelope.SigningBytes(s.self, counter, digest))
	if err != nil {
		return nil, fmt.Errorf("sign envelope: %w", err)
	}
	env := &envelope.Envelope{
		Producer:      s.self,
		Counter:       counter,
		PayloadDigest: digest,
		Signature:     sig,
	}
	s.store.put(env, history)

	s.metrics.accepted()
	return env, nil
}

// RecordRemote verifies a received envelope, folds its counter into the
// local clock and stores it as accepted. On any failure the envelope is
// discarded and no state changes; the error wraps the specific kind from
// the trust package.
func (s *Service) RecordRemote(env *envelope.Envelope) error {
	if err := s.anchor.Authenticate(env); err != nil {
		s.metrics.rejected(trust.Reason(err))
		return err
	}

	// Admission and clock merge are one step under the same lock that
	// guards local ticks, so a concurrent RecordLocal sees either all of
	// this envelope's effects or none of them.
	s.mu.Lock()
	if err := s.anchor.Admit(env); err != nil {
		s.mu.Unlock()
		s.metrics.rejected(trust.Reason(err))
		return err
	}
	s.clk.Observe(env.Counter)
	s.mu.Unlock()

	// A scalar clock attests no more than the producer's own counter. The
	// receiver's whole table at merge time would overstate what the
	// producer had seen when it created the event.
	history := clock.NewSnapshot()
	history.Set(string(env.Producer), env.Counter)
	s.store.put(env, history)

	s.metrics.accepted()
	return nil
}

// Compare answers how two previously accepted envelopes relate causally.
// Same-producer envelopes are strictly ordered by counter; across
// producers the merge-history snapshots decide, and anything not provably
// ordered is Concurrent.
func (s *Service) Compare(a, b envelope.Key) (clock.Relation, error) {
	ra := s.store.get(a)
	if ra == nil {
		return clock.Concurrent, fmt.Errorf("%s: %w", a, ErrUnknownEvent)
	}
	rb := s.store.get(b)
	if rb == nil {
		return clock.Concurrent, fmt.Errorf("%s: %w", b, ErrUnknownEvent)
	}

	if a == b {
		return clock.Equal, nil
	}

	if a.Producer == b.Producer {
		// Equal counters for one producer cannot both be accepted, so this
		// order is strict.
		if a.Counter < b.Counter {
			return clock.Before, nil
		}
		return clock.After, nil
	}

	switch ra.History.Compare(rb.History) {
	case clock.Before:
		return clock.Before, nil
	case clock.After:
		return clock.After, nil
	default:
		return clock.Concurrent, nil
	}
}

// TieBreak imposes a deterministic total order for display and storage:
// lexicographic on (counter, producer). It is NOT a causal claim; use
// Compare for causality.
func TieBreak(a, b envelope.Key) clock.Relation {
	if a == b {
		return clock.Equal
	}
	if a.Counter != b.Counter {
		if a.Counter < b.Counter {
			return clock.Before
		}
		return clock.After
	}
	if a.Producer < b.Producer {
		return clock.Before
	}
	return clock.After
}

// Get returns the accepted record for a key, or nil if never accepted.
func (s *Service) Get(key envelope.Key) *Accepted {
	return s.store.get(key)
}

// Len returns the number of accepted envelopes.
func (s *Service) Len() int {
	return s.store.len()
}
