// Package message defines the envelope exchanged between a bridge client and the bridge server.
//
// Every frame on the wire carries exactly one Envelope. A request names a method and carries the
// serialized arguments; a response is addressed by the request's ID and carries one of three
// mutually exclusive variants:
//
//	kind=chunk  payload is an ordinary value (the unary reply, or one stream item)
//	kind=end    the stream for ID is complete
//	kind=error  the call for ID failed; Error holds the remote message
//
// Older bridges do not send "kind". For those frames the variant is derived once, in Variant():
// a non-empty Error is an error, a payload that is exactly {"end":true} is an end marker,
// anything else is a chunk. Code outside this package must switch on Variant() and never
// inspect payload shape itself.
package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the direction of an envelope.
type Type string

const (
	TypeRequest  Type = "request"  // Client → Server
	TypeResponse Type = "response" // Server → Client
)

// Kind tags the variant carried by a response.
type Kind string

const (
	KindChunk Kind = "chunk"
	KindEnd   Kind = "end"
	KindError Kind = "error"
)

// EndMarker is the legacy end-of-stream payload.
var EndMarker = json.RawMessage(`{"end":true}`)

// ErrMalformed is wrapped by every decode or validation failure of an inbound frame.
var ErrMalformed = errors.New("malformed envelope")

// Envelope carries the data for a single request or response frame.
//
//   - On request:  Method and ID are set, Payload contains the serialized args.
//   - On response: ID matches the request, Kind/Payload/Error describe the outcome.
type Envelope struct {
	Type    Type            `json:"type"`
	ID      string          `json:"id"`
	Method  string          `json:"method,omitempty"`
	Kind    Kind            `json:"kind,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// NewRequest builds a request envelope.
func NewRequest(id, method string, payload json.RawMessage) *Envelope {
	return &Envelope{Type: TypeRequest, ID: id, Method: method, Payload: payload}
}

// NewChunk builds a response carrying an ordinary value.
func NewChunk(id, method string, payload json.RawMessage) *Envelope {
	return &Envelope{Type: TypeResponse, ID: id, Method: method, Kind: KindChunk, Payload: payload}
}

// NewEnd builds an end-of-stream response. The legacy payload is kept so that clients which
// only understand the sentinel still terminate the stream.
func NewEnd(id, method string) *Envelope {
	return &Envelope{Type: TypeResponse, ID: id, Method: method, Kind: KindEnd, Payload: EndMarker}
}

// NewError builds a failed response.
func NewError(id, method, msg string) *Envelope {
	return &Envelope{Type: TypeResponse, ID: id, Method: method, Kind: KindError, Error: msg}
}

// Variant resolves the tagged variant of a response.
func (e *Envelope) Variant() Kind {
	if e.Kind != "" {
		return e.Kind
	}
	if e.Error != "" {
		return KindError
	}
	if IsEndMarker(e.Payload) {
		return KindEnd
	}
	return KindChunk
}

// Validate reports whether the envelope is well formed. The returned error wraps ErrMalformed.
func (e *Envelope) Validate() error {
	switch e.Type {
	case TypeRequest:
		if e.ID == "" {
			return fmt.Errorf("%w: request without id", ErrMalformed)
		}
		if e.Method == "" {
			return fmt.Errorf("%w: request %s without method", ErrMalformed, e.ID)
		}
	case TypeResponse:
		switch e.Kind {
		case "", KindChunk, KindEnd:
		case KindError:
			if e.Error == "" {
				return fmt.Errorf("%w: error response %s without message", ErrMalformed, e.ID)
			}
		default:
			return fmt.Errorf("%w: unknown kind %q", ErrMalformed, e.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, e.Type)
	}
	return nil
}

// IsEndMarker reports whether payload is exactly the legacy {"end":true} object.
func IsEndMarker(payload json.RawMessage) bool {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || payload[0] != '{' {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || len(fields) != 1 {
		return false
	}
	return bytes.Equal(bytes.TrimSpace(fields["end"]), []byte("true"))
}
