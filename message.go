package bidi

import "encoding/json"

// Command is the outbound envelope sent for every issued command. It is
// exposed for documentation and for callers that want to inspect what
// Execute will put on the wire; the session itself builds and marshals
// this shape internally via internal/dispatcher.
type Command struct {
	ID     uint64      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

// RemoteError is the payload of an inbound error response, mirrored in
// CommandError once it reaches the caller.
type RemoteError struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Stacktrace string `json:"stacktrace,omitempty"`
}

// EventMessage is the payload handed to every subscriber: the method name
// that matched the subscription, the raw params object, and Data, the
// value produced by decoding Params through the session's Codec
// (json.RawMessage unchanged, for the default RawCodec).
type EventMessage struct {
	Method string
	Params json.RawMessage
	Data   any
}
