// Package protocol implements the binary frame protocol used by the framed TCP transport.
//
// WebSocket already delimits messages; a raw TCP stream does not. Framing solves TCP's sticky
// packet problem with a fixed-size 10-byte header followed by a variable-length body. The
// receiver reads the header first to determine the body length, then reads exactly that many
// bytes. Correlation lives in the envelope inside the body, not in the header.
//
// Frame format:
//
//	0      3  4  5  6         10
//	┌──────┬──┬──┬──┬─────────┬───────────────┐
//	│magic │v │ct│mt│ bodyLen │    body ...    │
//	│ rpb  │01│  │  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic number bytes: "rpb" (rpc bridge).
// Used to reject non-protocol connections (e.g., HTTP clients hitting the wrong port).
const (
	MagicNumber byte   = 0x72 // 'r'
	MagicByte2  byte   = 0x70 // 'p'
	MagicByte3  byte   = 0x62 // 'b'
	Version     byte   = 0x01
	HeaderSize  int    = 10       // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (bodyLen)
	MaxBodyLen  uint32 = 16 << 20 // Refuse to allocate for absurd lengths from a broken peer
)

// MsgType distinguishes envelope frames from heartbeats.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // Client → Server envelope
	MsgTypeResponse  MsgType = 1 // Server → Client envelope
	MsgTypeHeartbeat MsgType = 2 // KeepAlive probe (no body)
)

// Codec type constants, mirrored from codec package to avoid circular import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// Header represents the fixed 10-byte frame header.
type Header struct {
	CodecType byte    // Serialization format of the body: 0=JSON, 1=Binary
	MsgType   MsgType // Request, Response, or Heartbeat
	BodyLen   uint32
}

// Encode writes a complete frame (header + body) to w.
// The caller must hold a write lock if multiple goroutines share the same writer,
// otherwise frames from different calls will interleave and corrupt the stream.
func Encode(w io.Writer, h *Header, body []byte) error {
	// Compare as int: a uint32 conversion wraps for bodies of 4 GiB and more.
	if len(body) > int(MaxBodyLen) {
		return fmt.Errorf("body too large: %d bytes", len(body))
	}
	buf := make([]byte, HeaderSize, HeaderSize+len(body))

	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], uint32(len(body)))

	// One Write per frame so a concurrent heartbeat can never land between header and body.
	_, err := w.Write(append(buf, body...))
	return err
}

// Decode reads a complete frame (header + body) from r.
// It validates the magic number, version, codec type, and message type.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}
	msgType := MsgType(headerBuf[5])
	if msgType != MsgTypeRequest && msgType != MsgTypeResponse && msgType != MsgTypeHeartbeat {
		return nil, nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	bodyLen := binary.BigEndian.Uint32(headerBuf[6:10])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("body too large: %d bytes", bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   msgType,
		BodyLen:   bodyLen,
	}, body, nil
}
