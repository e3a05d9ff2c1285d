// Package wire pins the byte layout envelopes travel in. Frames use
// protobuf wire primitives with fixed field order, written and parsed by
// hand rather than generated: the signature over an envelope is bit-exact
// over (producer, counter, payload_digest), so the encoding of those
// fields is owned here, not by a code generator.
package wire
