package wire

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustclock/internal/envelope"
	"trustclock/internal/trust"
)

func sampleEnvelope(t *testing.T, counter uint64, payload []byte) *envelope.Envelope {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := trust.NewEd25519Signer(priv)
	require.NoError(t, err)

	digest := envelope.DigestOf(payload)
	producer := signer.Verifier().ProcessID()
	sig, err := signer.Sign(envelope.SigningBytes(producer, counter, digest))
	require.NoError(t, err)
	return &envelope.Envelope{
		Producer:      producer,
		Counter:       counter,
		PayloadDigest: digest,
		Signature:     sig,
	}
}

func TestEnvelope_RoundTrip(t *testing.T) {
	env := sampleEnvelope(t, 42, []byte("payload"))

	decoded, err := ParseEnvelope(AppendEnvelope(nil, env))
	require.NoError(t, err)

	assert.Equal(t, env.Producer, decoded.Producer)
	assert.Equal(t, env.Counter, decoded.Counter)
	assert.Equal(t, env.PayloadDigest, decoded.PayloadDigest)
	assert.Equal(t, env.Signature, decoded.Signature)
	assert.False(t, decoded.HasOrderHint)

	// The decoded envelope's signing preimage must be byte-identical to
	// the original's; verification after transport is bit-exact.
	assert.True(t, bytes.Equal(env.SigningBytes(), decoded.SigningBytes()))
}

func TestEnvelope_RoundTrip_OrderHint(t *testing.T) {
	env := sampleEnvelope(t, 7, []byte("x"))
	env.GlobalOrderHint = 12345
	env.HasOrderHint = true

	decoded, err := ParseEnvelope(AppendEnvelope(nil, env))
	require.NoError(t, err)
	assert.True(t, decoded.HasOrderHint)
	assert.Equal(t, uint64(12345), decoded.GlobalOrderHint)

	// The hint carries zero: presence is still distinguishable.
	env.GlobalOrderHint = 0
	decoded, err = ParseEnvelope(AppendEnvelope(nil, env))
	require.NoError(t, err)
	assert.True(t, decoded.HasOrderHint)
	assert.Equal(t, uint64(0), decoded.GlobalOrderHint)
}

func TestEnvelope_Parse_Malformed(t *testing.T) {
	env := sampleEnvelope(t, 1, []byte("x"))
	good := AppendEnvelope(nil, env)

	_, err := ParseEnvelope(good[:len(good)-2])
	assert.Error(t, err, "truncated frame must not parse")

	_, err = ParseEnvelope([]byte{0xff, 0xff})
	assert.Error(t, err)

	_, err = ParseEnvelope(nil)
	assert.Error(t, err, "empty frame is missing required fields")
}

func TestDeliverRequest_RoundTrip(t *testing.T) {
	env1 := sampleEnvelope(t, 1, []byte("one"))
	env2 := sampleEnvelope(t, 2, []byte("two"))

	req := &DeliverRequest{
		Sender: env1.Producer,
		Messages: []*Message{
			{Envelope: env1, Payload: []byte("one")},
			{Envelope: env2, Payload: []byte("two")},
		},
	}

	var decoded DeliverRequest
	require.NoError(t, UnmarshalDeliverRequest(MarshalDeliverRequest(req), &decoded))

	assert.Equal(t, req.Sender, decoded.Sender)
	require.Len(t, decoded.Messages, 2)
	assert.Equal(t, []byte("one"), decoded.Messages[0].Payload)
	assert.Equal(t, env2.Counter, decoded.Messages[1].Envelope.Counter)
}

func TestDeliverResponse_RoundTrip(t *testing.T) {
	resp := &DeliverResponse{
		Accepted: 3,
		Rejections: []*Rejection{
			{Producer: "p1", Counter: 2, Reason: "clock_regression"},
		},
	}

	var decoded DeliverResponse
	require.NoError(t, UnmarshalDeliverResponse(MarshalDeliverResponse(resp), &decoded))

	assert.Equal(t, uint64(3), decoded.Accepted)
	require.Len(t, decoded.Rejections, 1)
	assert.Equal(t, "clock_regression", decoded.Rejections[0].Reason)
	assert.Equal(t, uint64(2), decoded.Rejections[0].Counter)
}

func TestCodec(t *testing.T) {
	env := sampleEnvelope(t, 1, []byte("x"))
	req := &DeliverRequest{Sender: "s", Messages: []*Message{{Envelope: env, Payload: []byte("x")}}}

	c := Codec{}
	assert.Equal(t, CodecName, c.Name())

	data, err := c.Marshal(req)
	require.NoError(t, err)

	var decoded DeliverRequest
	require.NoError(t, c.Unmarshal(data, &decoded))
	assert.Equal(t, req.Sender, decoded.Sender)

	_, err = c.Marshal("not a frame")
	assert.Error(t, err)
	assert.Error(t, c.Unmarshal(data, "not a frame"))
}
