package message

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVariantExplicitKind(t *testing.T) {
	// An explicit kind wins over payload shape, so a legitimate {"end":true} value survives.
	env := NewChunk("req_1", "Stream", json.RawMessage(`{"end":true}`))
	require.Equal(t, KindChunk, env.Variant())

	require.Equal(t, KindEnd, NewEnd("req_1", "Stream").Variant())
	require.Equal(t, KindError, NewError("req_1", "Stream", "boom").Variant())
}

func TestVariantLegacyFrames(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Kind
	}{
		{"value", `{"type":"response","id":"req_1","payload":{"message":"Hello World"}}`, KindChunk},
		{"end", `{"type":"response","id":"req_1","payload":{"end": true}}`, KindEnd},
		{"end false", `{"type":"response","id":"req_1","payload":{"end":false}}`, KindChunk},
		{"end plus fields", `{"type":"response","id":"req_1","payload":{"end":true,"index":3}}`, KindChunk},
		{"error", `{"type":"response","id":"req_1","error":"unknown method"}`, KindError},
		{"no payload", `{"type":"response","id":"req_1"}`, KindChunk},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var env Envelope
			require.NoError(t, json.Unmarshal([]byte(tc.raw), &env))
			require.NoError(t, env.Validate())
			require.Equal(t, tc.want, env.Variant())
		})
	}
}

func TestValidate(t *testing.T) {
	bad := []*Envelope{
		{Type: "notify", ID: "req_1"},
		{Type: TypeRequest, Method: "SayHello"},
		{Type: TypeRequest, ID: "req_1"},
		{Type: TypeResponse, ID: "req_1", Kind: KindError},
		{Type: TypeResponse, ID: "req_1", Kind: "partial"},
	}
	for _, env := range bad {
		err := env.Validate()
		require.Error(t, err, "%+v", env)
		require.True(t, errors.Is(err, ErrMalformed))
	}

	require.NoError(t, NewRequest("req_1", "SayHello", json.RawMessage(`{"name":"World"}`)).Validate())
}

func TestWireShape(t *testing.T) {
	data, err := json.Marshal(NewRequest("req_7", "SayHello", json.RawMessage(`{"name":"World"}`)))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"request","id":"req_7","method":"SayHello","payload":{"name":"World"}}`, string(data))

	data, err = json.Marshal(NewEnd("req_7", "StreamMessages"))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"response","id":"req_7","method":"StreamMessages","kind":"end","payload":{"end":true}}`, string(data))
}
