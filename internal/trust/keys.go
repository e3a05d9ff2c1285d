package trust

import (
	"crypto/ed25519"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"

	"trustclock/internal/envelope"
)

// Supported signature scheme names.
const (
	SchemeEd25519   = "ed25519"
	SchemeSecp256k1 = "secp256k1"
)

// idSize is the truncated digest length used for process identifiers.
const idSize = 20

// Verifier is the capability to check a producer's signatures. Alternative
// schemes plug in behind this interface without touching the clock or the
// ordering service.
type Verifier interface {
	// Verify checks sig over msg; returns ErrInvalidSignature on mismatch.
	Verify(msg, sig []byte) error
	// Scheme names the signature scheme.
	Scheme() string
	// Bytes returns the canonical public key encoding.
	Bytes() []byte
	// ProcessID returns the identity derived from the key.
	ProcessID() envelope.ProcessID
}

// Signer is the capability to produce signatures for one identity. Key
// material is held by the caller's key-management system; this module
// only wraps it.
type Signer interface {
	// Sign signs msg with the producer's private key.
	Sign(msg []byte) ([]byte, error)
	// Verifier returns the matching verification capability.
	Verifier() Verifier
}

// DeriveID derives a stable process identifier from a verification key:
// base58 of the truncated BLAKE2b-256 digest of (scheme || key bytes).
// The scheme is part of the preimage so the same raw key bytes under two
// schemes yield distinct identities.
func DeriveID(scheme string, key []byte) envelope.ProcessID {
	pre := make([]byte, 0, len(scheme)+1+len(key))
	pre = append(pre, scheme...)
	pre = append(pre, 0)
	pre = append(pre, key...)
	sum := blake2b.Sum256(pre)
	return envelope.ProcessID(base58.Encode(sum[:idSize]))
}

// ed25519Verifier verifies Ed25519 signatures over the raw preimage.
type ed25519Verifier struct {
	pub ed25519.PublicKey
	id  envelope.ProcessID
}

// NewEd25519Verifier wraps an Ed25519 public key as a Verifier.
func NewEd25519Verifier(pub ed25519.PublicKey) (Verifier, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	key := append(ed25519.PublicKey(nil), pub...)
	return &ed25519Verifier{pub: key, id: DeriveID(SchemeEd25519, key)}, nil
}

func (v *ed25519Verifier) Verify(msg, sig []byte) error {
	if len(sig) != ed25519.SignatureSize || !ed25519.Verify(v.pub, msg, sig) {
		return ErrInvalidSignature
	}
	return nil
}

func (v *ed25519Verifier) Scheme() string                { return SchemeEd25519 }
func (v *ed25519Verifier) Bytes() []byte                 { return append([]byte(nil), v.pub...) }
func (v *ed25519Verifier) ProcessID() envelope.ProcessID { return v.id }

// ed25519Signer signs with a caller-supplied Ed25519 private key.
type ed25519Signer struct {
	priv     ed25519.PrivateKey
	verifier Verifier
}

// NewEd25519Signer wraps an Ed25519 private key as a Signer.
func NewEd25519Signer(priv ed25519.PrivateKey) (Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("ed25519 private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}
	verifier, err := NewEd25519Verifier(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &ed25519Signer{priv: priv, verifier: verifier}, nil
}

func (s *ed25519Signer) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, msg), nil
}

func (s *ed25519Signer) Verifier() Verifier { return s.verifier }

// secpVerifier verifies DER-encoded ECDSA signatures over the BLAKE2b-256
// of the preimage (ECDSA signs a fixed-size hash, not the raw message).
type secpVerifier struct {
	pub *secp256k1.PublicKey
	id  envelope.ProcessID
}

// NewSecp256k1Verifier wraps a compressed secp256k1 public key as a Verifier.
func NewSecp256k1Verifier(compressed []byte) (Verifier, error) {
	pub, err := secp256k1.ParsePubKey(compressed)
	if err != nil {
		return nil, fmt.Errorf("parse secp256k1 public key: %w", err)
	}
	return &secpVerifier{pub: pub, id: DeriveID(SchemeSecp256k1, pub.SerializeCompressed())}, nil
}

func (v *secpVerifier) Verify(msg, sig []byte) error {
	parsed, err := secpecdsa.ParseDERSignature(sig)
	if err != nil {
		return ErrInvalidSignature
	}
	hash := blake2b.Sum256(msg)
	if !parsed.Verify(hash[:], v.pub) {
		return ErrInvalidSignature
	}
	return nil
}

func (v *secpVerifier) Scheme() string                { return SchemeSecp256k1 }
func (v *secpVerifier) Bytes() []byte                 { return v.pub.SerializeCompressed() }
func (v *secpVerifier) ProcessID() envelope.ProcessID { return v.id }

// secpSigner signs with a caller-supplied secp256k1 private key.
type secpSigner struct {
	priv     *secp256k1.PrivateKey
	verifier Verifier
}

// NewSecp256k1Signer wraps a secp256k1 private key as a Signer.
func NewSecp256k1Signer(priv *secp256k1.PrivateKey) (Signer, error) {
	verifier, err := NewSecp256k1Verifier(priv.PubKey().SerializeCompressed())
	if err != nil {
		return nil, err
	}
	return &secpSigner{priv: priv, verifier: verifier}, nil
}

func (s *secpSigner) Sign(msg []byte) ([]byte, error) {
	hash := blake2b.Sum256(msg)
	return secpecdsa.Sign(s.priv, hash[:]).Serialize(), nil
}

func (s *secpSigner) Verifier() Verifier { return s.verifier }

// NewVerifier constructs a Verifier for the named scheme from canonical
// key bytes, as produced by Verifier.Bytes.
func NewVerifier(scheme string, key []byte) (Verifier, error) {
	switch scheme {
	case SchemeEd25519:
		return NewEd25519Verifier(key)
	case SchemeSecp256k1:
		return NewSecp256k1Verifier(key)
	default:
		return nil, fmt.Errorf("unsupported signature scheme %q", scheme)
	}
}
