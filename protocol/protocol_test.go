package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	header := Header{
		CodecType: CodecTypeJSON,
		MsgType:   MsgTypeRequest,
	}
	body := []byte(`{"type":"request","id":"req_1","method":"SayHello"}`)

	var buf bytes.Buffer
	if err := Encode(&buf, &header, body); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if buf.Len() != HeaderSize+len(body) {
		t.Fatalf("frame length: got %d, want %d", buf.Len(), HeaderSize+len(body))
	}

	decodedHeader, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decodedHeader.CodecType != header.CodecType {
		t.Errorf("CodecType mismatch: got %d, want %d", decodedHeader.CodecType, header.CodecType)
	}
	if decodedHeader.MsgType != header.MsgType {
		t.Errorf("MsgType mismatch: got %d, want %d", decodedHeader.MsgType, header.MsgType)
	}
	if decodedHeader.BodyLen != uint32(len(body)) {
		t.Errorf("BodyLen mismatch: got %d, want %d", decodedHeader.BodyLen, len(body))
	}
	if !bytes.Equal(decodedBody, body) {
		t.Errorf("Body mismatch: got %s, want %s", decodedBody, body)
	}
}

func TestDecodeBackToBackFrames(t *testing.T) {
	var buf bytes.Buffer
	for _, s := range []string{"first", "", "third"} {
		mt := MsgTypeResponse
		if s == "" {
			mt = MsgTypeHeartbeat
		}
		if err := Encode(&buf, &Header{CodecType: CodecTypeBinary, MsgType: mt}, []byte(s)); err != nil {
			t.Fatal(err)
		}
	}

	for _, want := range []string{"first", "", "third"} {
		_, body, err := Decode(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if string(body) != want {
			t.Fatalf("got %q, want %q", body, want)
		}
	}
	if _, _, err := Decode(&buf); err != io.EOF {
		t.Fatalf("expect io.EOF after last frame, got %v", err)
	}
}

func TestDecodeInvalidMagic(t *testing.T) {
	invalidHeader := []byte{0x00, 0x00, 0x00, Version, CodecTypeJSON, byte(MsgTypeRequest), 0x00, 0x00, 0x00, 0x0B}
	var buf bytes.Buffer
	buf.Write(invalidHeader)
	buf.Write([]byte("hello world"))

	_, _, err := Decode(&buf)
	if err == nil {
		t.Fatal("Expected error for invalid magic number, but got nil")
	}
	if !bytes.Contains([]byte(err.Error()), []byte("invalid magic number")) {
		t.Errorf("Error message should contain 'invalid magic', instead: %v", err)
	}
}

func TestDecodeRejectsOversizedBody(t *testing.T) {
	hdr := []byte{MagicNumber, MagicByte2, MagicByte3, Version, CodecTypeJSON, byte(MsgTypeResponse), 0, 0, 0, 0}
	binary.BigEndian.PutUint32(hdr[6:], MaxBodyLen+1)

	if _, _, err := Decode(bytes.NewReader(hdr)); err == nil {
		t.Fatal("expect error for oversized body")
	}
}

func TestEncodeRejectsOversizedBody(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, &Header{MsgType: MsgTypeResponse}, make([]byte, MaxBodyLen+1)); err == nil {
		t.Fatal("expect error for oversized body")
	}
	if buf.Len() != 0 {
		t.Fatalf("expect nothing written, got %d bytes", buf.Len())
	}

	if err := Encode(io.Discard, &Header{MsgType: MsgTypeResponse}, make([]byte, MaxBodyLen)); err != nil {
		t.Fatalf("expect body at the limit to encode, got %v", err)
	}
}

func TestDecodeTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, &Header{MsgType: MsgTypeRequest}, []byte("hello world")); err != nil {
		t.Fatal(err)
	}
	truncated := buf.Bytes()[:buf.Len()-3]

	if _, _, err := Decode(bytes.NewReader(truncated)); err != io.ErrUnexpectedEOF {
		t.Fatalf("expect io.ErrUnexpectedEOF, got %v", err)
	}
}
