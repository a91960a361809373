package codec

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"rpcbridge/message"
)

// BinaryCodec lays an envelope out as length-prefixed fields:
//
//	type(1) kind(1) idLen(2) id methodLen(2) method payloadLen(4) payload errLen(2) err
//
// type is 0=request 1=response; kind is 0=unset 1=chunk 2=end 3=error. Payload bytes are
// carried verbatim (they are JSON produced by the caller).
type BinaryCodec struct{}

var errShortBuffer = errors.New("short buffer")

var (
	typeCodes = map[message.Type]byte{message.TypeRequest: 0, message.TypeResponse: 1}
	kindCodes = map[message.Kind]byte{"": 0, message.KindChunk: 1, message.KindEnd: 2, message.KindError: 3}
)

func (BinaryCodec) Encode(env *message.Envelope) ([]byte, error) {
	tc, ok := typeCodes[env.Type]
	if !ok {
		return nil, fmt.Errorf("BinaryCodec: unknown type %q", env.Type)
	}
	kc, ok := kindCodes[env.Kind]
	if !ok {
		return nil, fmt.Errorf("BinaryCodec: unknown kind %q", env.Kind)
	}
	for _, s := range []string{env.ID, env.Method, env.Error} {
		if len(s) > 0xffff {
			return nil, fmt.Errorf("BinaryCodec: field longer than %d bytes", 0xffff)
		}
	}

	total := 2 + 2 + len(env.ID) + 2 + len(env.Method) + 4 + len(env.Payload) + 2 + len(env.Error)
	buf := make([]byte, 0, total)
	buf = append(buf, tc, kc)
	buf = appendString16(buf, env.ID)
	buf = appendString16(buf, env.Method)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(env.Payload)))
	buf = append(buf, env.Payload...)
	buf = appendString16(buf, env.Error)
	return buf, nil
}

func (BinaryCodec) Decode(data []byte, env *message.Envelope) error {
	r := reader{buf: data}
	tc := r.u8()
	kc := r.u8()
	id := r.string16()
	method := r.string16()
	payload := r.bytes32()
	errMsg := r.string16()
	if r.err != nil {
		return fmt.Errorf("%w: %v", message.ErrMalformed, r.err)
	}
	if len(r.buf) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", message.ErrMalformed, len(r.buf))
	}

	*env = message.Envelope{ID: id, Method: method, Error: errMsg}
	switch tc {
	case 0:
		env.Type = message.TypeRequest
	case 1:
		env.Type = message.TypeResponse
	default:
		return fmt.Errorf("%w: unknown type code %d", message.ErrMalformed, tc)
	}
	found := false
	for k, c := range kindCodes {
		if c == kc {
			env.Kind, found = k, true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: unknown kind code %d", message.ErrMalformed, kc)
	}
	if len(payload) > 0 {
		env.Payload = json.RawMessage(payload)
	}
	return nil
}

func (BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func appendString16(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// reader walks a buffer and records the first short read.
type reader struct {
	buf []byte
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < n {
		r.err = errShortBuffer
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *reader) u8() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) string16() string {
	n := r.take(2)
	if n == nil {
		return ""
	}
	return string(r.take(int(binary.BigEndian.Uint16(n))))
}

func (r *reader) bytes32() []byte {
	n := r.take(4)
	if n == nil {
		return nil
	}
	b := r.take(int(binary.BigEndian.Uint32(n)))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
