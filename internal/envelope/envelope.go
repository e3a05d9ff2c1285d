package envelope

import (
	"fmt"

	"golang.org/x/crypto/blake2b"
	"google.golang.org/protobuf/encoding/protowire"
)

// ProcessID is the opaque, stable identifier of a module instance. It is
// derived from the instance's verification key (see the trust package), so
// a registered identity is always bound to key material.
type ProcessID string

// DigestSize is the size in bytes of a payload digest.
const DigestSize = 32

// Digest is the BLAKE2b-256 content hash of an opaque event payload. The
// payload itself is supplied by the caller and never stored here.
type Digest [DigestSize]byte

// DigestOf computes the digest of a payload.
func DigestOf(payload []byte) Digest {
	return blake2b.Sum256(payload)
}

// String returns a short hex prefix of the digest, for logs.
func (d Digest) String() string {
	return fmt.Sprintf("%x", d[:8])
}

// Key identifies an envelope by its producer and counter. Counters are
// unique per producer, so a key names exactly one accepted event.
type Key struct {
	Producer ProcessID
	Counter  uint64
}

// String returns "producer@counter".
func (k Key) String() string {
	return fmt.Sprintf("%s@%d", k.Producer, k.Counter)
}

// Envelope combines a causal payload digest with its logical timestamp
// and authentication proof. Immutable once created.
//
// GlobalOrderHint is an extension slot for a future external ordering
// source (a relay-chain sequence number). It carries no semantics yet, is
// not covered by the signature, and is ignored by ordering queries.
type Envelope struct {
	Producer      ProcessID
	Counter       uint64
	PayloadDigest Digest
	Signature     []byte

	GlobalOrderHint uint64
	HasOrderHint    bool
}

// Key returns the envelope's identity key.
func (e *Envelope) Key() Key {
	return Key{Producer: e.Producer, Counter: e.Counter}
}

// Field numbers of the signed portion of an envelope. Shared with the
// wire codec: the signature covers exactly these fields in this order.
const (
	FieldProducer = 1
	FieldCounter  = 2
	FieldDigest   = 3
)

// SigningBytes returns the deterministic preimage a producer signs:
// (producer, counter, payload_digest) encoded with protobuf wire
// primitives in fixed field order. Any byte change in those three fields
// changes the preimage.
func SigningBytes(producer ProcessID, counter uint64, digest Digest) []byte {
	b := make([]byte, 0, len(producer)+DigestSize+16)
	b = protowire.AppendTag(b, FieldProducer, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(producer))
	b = protowire.AppendTag(b, FieldCounter, protowire.VarintType)
	b = protowire.AppendVarint(b, counter)
	b = protowire.AppendTag(b, FieldDigest, protowire.BytesType)
	b = protowire.AppendBytes(b, digest[:])
	return b
}

// SigningBytes returns the preimage this envelope's signature covers.
func (e *Envelope) SigningBytes() []byte {
	return SigningBytes(e.Producer, e.Counter, e.PayloadDigest)
}
