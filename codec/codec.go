// Package codec serializes envelopes for the wire.
//
// The codec is chosen per frame: WebSocket text messages and framed-TCP frames with codec byte 0
// are JSON, WebSocket binary messages and codec byte 1 are the binary layout. A peer answers
// in the codec the request arrived in.
package codec

import (
	"fmt"

	"rpcbridge/message"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	}
	return fmt.Sprintf("codec(%d)", byte(t))
}

type Codec interface {
	Encode(env *message.Envelope) ([]byte, error)
	Decode(data []byte, env *message.Envelope) error
	Type() CodecType // 0=JSON, 1=Binary
}

// GetCodec returns the codec for t.
func GetCodec(t CodecType) (Codec, error) {
	switch t {
	case CodecTypeJSON:
		return JSONCodec{}, nil
	case CodecTypeBinary:
		return BinaryCodec{}, nil
	}
	return nil, fmt.Errorf("unsupported codec type: %d", byte(t))
}

// ParseCodecType maps a config name ("json", "binary") to its CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "", "json":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	}
	return 0, fmt.Errorf("unknown codec %q", name)
}
