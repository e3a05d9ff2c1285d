package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"trustclock/internal/envelope"
)

// Envelope frame fields 1..3 are the signed portion and share their
// numbers with envelope.SigningBytes.
const (
	fieldSignature = 4
	fieldOrderHint = 5
)

// Message is one targeted event: the authenticated envelope plus the
// opaque payload it vouches for.
type Message struct {
	Envelope *envelope.Envelope
	Payload  []byte
}

// DeliverRequest is a bundle of messages from one sender.
type DeliverRequest struct {
	Sender   envelope.ProcessID
	Messages []*Message
}

// Rejection reports one envelope the receiver refused, with the stable
// reason name from the trust error taxonomy.
type Rejection struct {
	Producer envelope.ProcessID
	Counter  uint64
	Reason   string
}

// DeliverResponse acknowledges a bundle.
type DeliverResponse struct {
	Accepted   uint64
	Rejections []*Rejection
}

// AppendEnvelope encodes an envelope. The signed fields keep the exact
// layout of the signing preimage, followed by the signature and, when
// present, the uninterpreted global order hint.
func AppendEnvelope(b []byte, env *envelope.Envelope) []byte {
	b = append(b, env.SigningBytes()...)
	b = protowire.AppendTag(b, fieldSignature, protowire.BytesType)
	b = protowire.AppendBytes(b, env.Signature)
	if env.HasOrderHint {
		b = protowire.AppendTag(b, fieldOrderHint, protowire.VarintType)
		b = protowire.AppendVarint(b, env.GlobalOrderHint)
	}
	return b
}

// ParseEnvelope decodes an envelope, preserving all fields exactly.
func ParseEnvelope(b []byte) (*envelope.Envelope, error) {
	env := &envelope.Envelope{}
	seenDigest := false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("envelope frame: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case envelope.FieldProducer:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("envelope producer: %w", protowire.ParseError(n))
			}
			env.Producer = envelope.ProcessID(v)
			b = b[n:]
		case envelope.FieldCounter:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("envelope counter: %w", protowire.ParseError(n))
			}
			env.Counter = v
			b = b[n:]
		case envelope.FieldDigest:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("envelope digest: %w", protowire.ParseError(n))
			}
			if len(v) != envelope.DigestSize {
				return nil, fmt.Errorf("envelope digest: expected %d bytes, got %d", envelope.DigestSize, len(v))
			}
			copy(env.PayloadDigest[:], v)
			seenDigest = true
			b = b[n:]
		case fieldSignature:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("envelope signature: %w", protowire.ParseError(n))
			}
			env.Signature = append([]byte(nil), v...)
			b = b[n:]
		case fieldOrderHint:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("envelope order hint: %w", protowire.ParseError(n))
			}
			env.GlobalOrderHint = v
			env.HasOrderHint = true
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("envelope field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if env.Producer == "" || !seenDigest || len(env.Signature) == 0 {
		return nil, fmt.Errorf("envelope frame missing required fields")
	}
	return env, nil
}

// Message frame fields.
const (
	fieldMsgEnvelope = 1
	fieldMsgPayload  = 2
)

// AppendMessage encodes a message.
func AppendMessage(b []byte, m *Message) []byte {
	b = protowire.AppendTag(b, fieldMsgEnvelope, protowire.BytesType)
	b = protowire.AppendBytes(b, AppendEnvelope(nil, m.Envelope))
	b = protowire.AppendTag(b, fieldMsgPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Payload)
	return b
}

// ParseMessage decodes a message.
func ParseMessage(b []byte) (*Message, error) {
	m := &Message{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("message frame: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldMsgEnvelope:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("message envelope: %w", protowire.ParseError(n))
			}
			env, err := ParseEnvelope(v)
			if err != nil {
				return nil, err
			}
			m.Envelope = env
			b = b[n:]
		case fieldMsgPayload:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("message payload: %w", protowire.ParseError(n))
			}
			m.Payload = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("message field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if m.Envelope == nil {
		return nil, fmt.Errorf("message frame missing envelope")
	}
	return m, nil
}

// DeliverRequest frame fields.
const (
	fieldReqSender   = 1
	fieldReqMessages = 2
)

// MarshalDeliverRequest encodes a delivery bundle.
func MarshalDeliverRequest(req *DeliverRequest) []byte {
	b := protowire.AppendTag(nil, fieldReqSender, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(req.Sender))
	for _, m := range req.Messages {
		b = protowire.AppendTag(b, fieldReqMessages, protowire.BytesType)
		b = protowire.AppendBytes(b, AppendMessage(nil, m))
	}
	return b
}

// UnmarshalDeliverRequest decodes a delivery bundle.
func UnmarshalDeliverRequest(b []byte, req *DeliverRequest) error {
	*req = DeliverRequest{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("deliver request: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldReqSender:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("deliver request sender: %w", protowire.ParseError(n))
			}
			req.Sender = envelope.ProcessID(v)
			b = b[n:]
		case fieldReqMessages:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("deliver request message: %w", protowire.ParseError(n))
			}
			m, err := ParseMessage(v)
			if err != nil {
				return err
			}
			req.Messages = append(req.Messages, m)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("deliver request field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

// Rejection frame fields.
const (
	fieldRejProducer = 1
	fieldRejCounter  = 2
	fieldRejReason   = 3
)

func appendRejection(b []byte, r *Rejection) []byte {
	b = protowire.AppendTag(b, fieldRejProducer, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(r.Producer))
	b = protowire.AppendTag(b, fieldRejCounter, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Counter)
	b = protowire.AppendTag(b, fieldRejReason, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(r.Reason))
	return b
}

func parseRejection(b []byte) (*Rejection, error) {
	r := &Rejection{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("rejection frame: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldRejProducer:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("rejection producer: %w", protowire.ParseError(n))
			}
			r.Producer = envelope.ProcessID(v)
			b = b[n:]
		case fieldRejCounter:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("rejection counter: %w", protowire.ParseError(n))
			}
			r.Counter = v
			b = b[n:]
		case fieldRejReason:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("rejection reason: %w", protowire.ParseError(n))
			}
			r.Reason = string(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("rejection field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return r, nil
}

// DeliverResponse frame fields.
const (
	fieldRespAccepted   = 1
	fieldRespRejections = 2
)

// MarshalDeliverResponse encodes a delivery acknowledgement.
func MarshalDeliverResponse(resp *DeliverResponse) []byte {
	b := protowire.AppendTag(nil, fieldRespAccepted, protowire.VarintType)
	b = protowire.AppendVarint(b, resp.Accepted)
	for _, r := range resp.Rejections {
		b = protowire.AppendTag(b, fieldRespRejections, protowire.BytesType)
		b = protowire.AppendBytes(b, appendRejection(nil, r))
	}
	return b
}

// UnmarshalDeliverResponse decodes a delivery acknowledgement.
func UnmarshalDeliverResponse(b []byte, resp *DeliverResponse) error {
	*resp = DeliverResponse{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("deliver response: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldRespAccepted:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("deliver response accepted: %w", protowire.ParseError(n))
			}
			resp.Accepted = v
			b = b[n:]
		case fieldRespRejections:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("deliver response rejection: %w", protowire.ParseError(n))
			}
			r, err := parseRejection(v)
			if err != nil {
				return err
			}
			resp.Rejections = append(resp.Rejections, r)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("deliver response field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}
