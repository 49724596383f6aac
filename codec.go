package bidi

import "encoding/json"

// Codec turns typed per-module commands into wire params and turns wire
// events back into typed values. The core never interprets a command's or
// event's params itself: Session passes outbound params through Encode,
// success results through DecodeResult, and event params through
// DecodeEvent.
//
// A per-module wrapper package (browsingContext, input, script, ...) is
// expected to provide a Codec; RawCodec below is a passthrough usable when
// the caller already deals in json.RawMessage.
type Codec interface {
	// Encode turns a typed command's params into a JSON-marshalable value
	// suitable for the Command envelope's Params field.
	Encode(method string, params any) (any, error)

	// DecodeEvent turns a raw event params object into a typed event value
	// for the given method. Implementations that do not recognize the
	// method may return the raw bytes unchanged.
	DecodeEvent(method string, params json.RawMessage) (any, error)

	// DecodeResult turns a raw success result object into a typed result
	// value for the given command method.
	DecodeResult(method string, result json.RawMessage) (any, error)
}

// RawCodec is the default Codec: it passes params through unchanged on
// encode, and returns json.RawMessage unchanged on both decode paths. It
// is sufficient for callers that work directly with untyped JSON.
type RawCodec struct{}

func (RawCodec) Encode(method string, params any) (any, error) {
	return params, nil
}

func (RawCodec) DecodeEvent(method string, params json.RawMessage) (any, error) {
	return params, nil
}

func (RawCodec) DecodeResult(method string, result json.RawMessage) (any, error) {
	return result, nil
}
