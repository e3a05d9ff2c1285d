package wire

import (
	"fmt"
)

// CodecName is the grpc content-subtype the exchange service uses.
const CodecName = "trustwire"

// Codec carries wire frames over grpc. It satisfies the grpc
// encoding.Codec interface; the exchange service installs it explicitly
// on both ends instead of relying on generated protobuf stubs.
type Codec struct{}

// Marshal encodes a wire frame.
func (Codec) Marshal(v interface{}) ([]byte, error) {
	switch m := v.(type) {
	case *DeliverRequest:
		return MarshalDeliverRequest(m), nil
	case *DeliverResponse:
		return MarshalDeliverResponse(m), nil
	default:
		return nil, fmt.Errorf("trustwire codec: unsupported type %T", v)
	}
}

// Unmarshal decodes a wire frame in place.
func (Codec) Unmarshal(data []byte, v interface{}) error {
	switch m := v.(type) {
	case *DeliverRequest:
		return UnmarshalDeliverRequest(data, m)
	case *DeliverResponse:
		return UnmarshalDeliverResponse(data, m)
	default:
		return fmt.Errorf("trustwire codec: unsupported type %T", v)
	}
}

// Name returns the codec's registered name.
func (Codec) Name() string { return CodecName }
