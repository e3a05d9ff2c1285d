package ordering

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustclock/internal/clock"
	"trustclock/internal/envelope"
	"trustclock/internal/trust"
)

func newService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := trust.NewEd25519Signer(priv)
	require.NoError(t, err)
	svc, err := NewService(signer, opts...)
	require.NoError(t, err)
	return svc
}

func TestRecordLocal_Monotonic(t *testing.T) {
	svc := newService(t)

	prev := uint64(0)
	for i := 0; i < 50; i++ {
		env, err := svc.RecordLocal(envelope.DigestOf([]byte{byte(i)}))
		require.NoError(t, err)
		require.Greater(t, env.Counter, prev, "counters must strictly increase")
		prev = env.Counter
	}
	assert.Equal(t, 50, svc.Len())
}

func TestRecordLocal_EnvelopeVerifies(t *testing.T) {
	svc := newService(t)
	other := newService(t)
	require.NoError(t, other.Register(svc.ID(), svc.Verifier()))

	env, err := svc.RecordLocal(envelope.DigestOf([]byte("payload")))
	require.NoError(t, err)
	assert.Equal(t, svc.ID(), env.Producer)
	require.NoError(t, other.RecordRemote(env))
}

func TestRecordRemote_RejectsWithoutRegistration(t *testing.T) {
	producer := newService(t)
	receiver := newService(t)

	env, err := producer.RecordLocal(envelope.DigestOf([]byte("x")))
	require.NoError(t, err)

	err = receiver.RecordRemote(env)
	assert.ErrorIs(t, err, trust.ErrUnknownProducer)
	assert.Equal(t, 0, receiver.Len(), "rejected envelopes are never stored")
}

func TestRecordRemote_AdvancesClock(t *testing.T) {
	producer := newService(t)
	receiver := newService(t)
	require.NoError(t, receiver.Register(producer.ID(), producer.Verifier()))

	var env *envelope.Envelope
	var err error
	for i := 0; i < 5; i++ {
		env, err = producer.RecordLocal(envelope.DigestOf([]byte{byte(i)}))
		require.NoError(t, err)
	}

	require.NoError(t, receiver.RecordRemote(env))
	assert.Greater(t, receiver.Now(), env.Counter, "merge must advance past the remote counter")

	next, err := receiver.RecordLocal(envelope.DigestOf([]byte("local")))
	require.NoError(t, err)
	assert.Greater(t, next.Counter, env.Counter)
}

func TestRecordRemote_Replay(t *testing.T) {
	producer := newService(t)
	receiver := newService(t)
	require.NoError(t, receiver.Register(producer.ID(), producer.Verifier()))

	env, err := producer.RecordLocal(envelope.DigestOf([]byte("once")))
	require.NoError(t, err)

	require.NoError(t, receiver.RecordRemote(env))
	err = receiver.RecordRemote(env)
	assert.ErrorIs(t, err, trust.ErrClockRegression)
	assert.Equal(t, 1, receiver.Len())
}

func TestRecordRemote_EchoOfOwnEnvelope(t *testing.T) {
	svc := newService(t)

	env, err := svc.RecordLocal(envelope.DigestOf([]byte("mine")))
	require.NoError(t, err)

	// A process's own accepted ticks are in the anti-replay table, so an
	// echoed copy is a regression, not a fresh event.
	err = svc.RecordRemote(env)
	assert.ErrorIs(t, err, trust.ErrClockRegression)
}

// gatedSigner blocks in Sign until released, modeling a slow external
// key manager. entered is signaled once per Sign call.
type gatedSigner struct {
	trust.Signer
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSigner) Sign(msg []byte) ([]byte, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.Signer.Sign(msg)
}

// TestRecordLocal_MergeDuringSigning pins down the admission order when a
// remote envelope arrives while a local event is still being signed: the
// local event ticked first, so the remote merge must not leak into its
// history. Otherwise Compare would report the remote event as happening
// before a local event with a smaller counter.
func TestRecordLocal_MergeDuringSigning(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	inner, err := trust.NewEd25519Signer(priv)
	require.NoError(t, err)
	gate := &gatedSigner{Signer: inner, entered: make(chan struct{}, 4), release: make(chan struct{})}

	svc, err := NewService(gate)
	require.NoError(t, err)

	_, rpriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	remoteSigner, err := trust.NewEd25519Signer(rpriv)
	require.NoError(t, err)
	remoteID := remoteSigner.Verifier().ProcessID()
	require.NoError(t, svc.Register(remoteID, remoteSigner.Verifier()))

	digest := envelope.DigestOf([]byte("far ahead"))
	sig, err := remoteSigner.Sign(envelope.SigningBytes(remoteID, 1000, digest))
	require.NoError(t, err)
	remote := &envelope.Envelope{
		Producer:      remoteID,
		Counter:       1000,
		PayloadDigest: digest,
		Signature:     sig,
	}

	type localResult struct {
		env *envelope.Envelope
		err error
	}
	resCh := make(chan localResult, 1)
	go func() {
		env, err := svc.RecordLocal(envelope.DigestOf([]byte("local")))
		resCh <- localResult{env, err}
	}()

	// The local event has ticked and is now stuck in Sign; merge the
	// remote envelope in that window, then let the signature finish.
	<-gate.entered
	require.NoError(t, svc.RecordRemote(remote))
	close(gate.release)

	res := <-resCh
	require.NoError(t, res.err)
	assert.Equal(t, uint64(1), res.env.Counter, "the local event ticked before the merge")

	// The remote event was never part of the local event's history.
	rel, err := svc.Compare(remote.Key(), res.env.Key())
	require.NoError(t, err)
	assert.Equal(t, clock.Concurrent, rel)
	rel, err = svc.Compare(res.env.Key(), remote.Key())
	require.NoError(t, err)
	assert.Equal(t, clock.Concurrent, rel)

	// An event recorded after both is causally after both.
	later, err := svc.RecordLocal(envelope.DigestOf([]byte("later")))
	require.NoError(t, err)
	rel, err = svc.Compare(remote.Key(), later.Key())
	require.NoError(t, err)
	assert.Equal(t, clock.Before, rel)
}

func TestCompare_SameProducer(t *testing.T) {
	svc := newService(t)

	e1, err := svc.RecordLocal(envelope.DigestOf([]byte("1")))
	require.NoError(t, err)
	e2, err := svc.RecordLocal(envelope.DigestOf([]byte("2")))
	require.NoError(t, err)
	e3, err := svc.RecordLocal(envelope.DigestOf([]byte("3")))
	require.NoError(t, err)

	rel, err := svc.Compare(e1.Key(), e2.Key())
	require.NoError(t, err)
	assert.Equal(t, clock.Before, rel)

	rel, err = svc.Compare(e2.Key(), e1.Key())
	require.NoError(t, err)
	assert.Equal(t, clock.After, rel)

	// Antisymmetric and transitive by counter.
	rel, err = svc.Compare(e1.Key(), e3.Key())
	require.NoError(t, err)
	assert.Equal(t, clock.Before, rel)

	rel, err = svc.Compare(e1.Key(), e1.Key())
	require.NoError(t, err)
	assert.Equal(t, clock.Equal, rel)
}

func TestCompare_UnknownEvent(t *testing.T) {
	svc := newService(t)
	e1, err := svc.RecordLocal(envelope.DigestOf([]byte("1")))
	require.NoError(t, err)

	_, err = svc.Compare(e1.Key(), envelope.Key{Producer: "ghost", Counter: 1})
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

// TestCompare_EndToEnd is the full two-process scenario: A ticks twice, B
// ticks once independently, then B merges A's second envelope. B's next
// event is causally after A's, while the two independent first events
// stay concurrent.
func TestCompare_EndToEnd(t *testing.T) {
	svcA := newService(t)
	svcB := newService(t)
	require.NoError(t, svcB.Register(svcA.ID(), svcA.Verifier()))

	a1, err := svcA.RecordLocal(envelope.DigestOf([]byte("a1")))
	require.NoError(t, err)
	a2, err := svcA.RecordLocal(envelope.DigestOf([]byte("a2")))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), a1.Counter)
	assert.Equal(t, uint64(2), a2.Counter)

	b1, err := svcB.RecordLocal(envelope.DigestOf([]byte("b1")))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), b1.Counter)

	// B receives A's history in order and merges.
	require.NoError(t, svcB.RecordRemote(a1))
	require.NoError(t, svcB.RecordRemote(a2))

	b2, err := svcB.RecordLocal(envelope.DigestOf([]byte("b2")))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, b2.Counter, uint64(3), "post-merge tick must be past A's counters")

	// Independent first events: concurrent, in both directions.
	rel, err := svcB.Compare(a1.Key(), b1.Key())
	require.NoError(t, err)
	assert.Equal(t, clock.Concurrent, rel)
	rel, err = svcB.Compare(b1.Key(), a1.Key())
	require.NoError(t, err)
	assert.Equal(t, clock.Concurrent, rel)

	// A's second envelope precedes B's post-merge event.
	rel, err = svcB.Compare(a2.Key(), b2.Key())
	require.NoError(t, err)
	assert.Equal(t, clock.Before, rel)
	rel, err = svcB.Compare(b2.Key(), a2.Key())
	require.NoError(t, err)
	assert.Equal(t, clock.After, rel)

	// Raw counters alone would have called a2 (counter 2) "before" a
	// hypothetical unrelated event with counter 3; the snapshot check
	// only orders what the merge history actually proves.
	rel, err = svcB.Compare(a2.Key(), b1.Key())
	require.NoError(t, err)
	assert.Equal(t, clock.Concurrent, rel)
}

func TestTieBreak(t *testing.T) {
	a := envelope.Key{Producer: "aaa", Counter: 1}
	b := envelope.Key{Producer: "bbb", Counter: 1}
	c := envelope.Key{Producer: "aaa", Counter: 2}

	assert.Equal(t, clock.Before, TieBreak(a, b), "equal counters break on producer")
	assert.Equal(t, clock.After, TieBreak(b, a))
	assert.Equal(t, clock.Before, TieBreak(a, c), "lower counter first")
	assert.Equal(t, clock.Equal, TieBreak(a, a))

	// Deterministic regardless of call order or repetition.
	for i := 0; i < 10; i++ {
		assert.Equal(t, clock.Before, TieBreak(a, b))
		assert.Equal(t, clock.After, TieBreak(b, a))
	}
}

func TestFrontier(t *testing.T) {
	svcA := newService(t)
	svcB := newService(t)
	require.NoError(t, svcB.Register(svcA.ID(), svcA.Verifier()))

	a1, err := svcA.RecordLocal(envelope.DigestOf([]byte("a1")))
	require.NoError(t, err)

	b1, err := svcB.RecordLocal(envelope.DigestOf([]byte("b1")))
	require.NoError(t, err)

	// Two independent events: both are heads.
	require.NoError(t, svcB.RecordRemote(a1))
	heads := svcB.Frontier()
	assert.ElementsMatch(t, []envelope.Key{a1.Key(), b1.Key()}, heads)

	// A post-merge local event dominates both; it becomes the only head.
	b2, err := svcB.RecordLocal(envelope.DigestOf([]byte("b2")))
	require.NoError(t, err)
	assert.Equal(t, []envelope.Key{b2.Key()}, svcB.Frontier())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	receiver := newService(t, WithMetrics(NewMetrics(reg)))
	producer := newService(t)

	_, err := receiver.RecordLocal(envelope.DigestOf([]byte("local")))
	require.NoError(t, err)

	env, err := producer.RecordLocal(envelope.DigestOf([]byte("remote")))
	require.NoError(t, err)
	assert.ErrorIs(t, receiver.RecordRemote(env), trust.ErrUnknownProducer)

	families, err := reg.Gather()
	require.NoError(t, err)

	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	assert.True(t, found["trustclock_envelopes_accepted_total"])
	assert.True(t, found["trustclock_envelopes_rejected_total"])
}
