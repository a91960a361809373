package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"rpcbridge/codec"
	"rpcbridge/protocol"
)

func TestPipeCarriesFramesBothWays(t *testing.T) {
	client, server := Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = client.WriteFrame(&Frame{Codec: codec.CodecTypeBinary, Body: []byte("ping")})
	}()
	f, err := server.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, codec.CodecTypeBinary, f.Codec)
	require.Equal(t, "ping", string(f.Body))

	go func() {
		_ = server.WriteFrame(&Frame{Codec: codec.CodecTypeJSON, Body: []byte(`{"ok":true}`)})
	}()
	f, err = client.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, codec.CodecTypeJSON, f.Codec)
	require.Equal(t, `{"ok":true}`, string(f.Body))
}

func TestFramedSkipsHeartbeats(t *testing.T) {
	c1, c2 := net.Pipe()
	client := NewFramed(c1, protocol.MsgTypeRequest, 5*time.Millisecond)
	server := NewFramed(c2, protocol.MsgTypeResponse, 0)
	defer client.Close()
	defer server.Close()

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = client.WriteFrame(&Frame{Body: []byte("after heartbeats")})
	}()

	f, err := server.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, "after heartbeats", string(f.Body))
}

func TestFramedReadAfterCloseIsEOF(t *testing.T) {
	client, server := Pipe()
	defer server.Close()

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, err := client.ReadFrame()
	require.Equal(t, io.EOF, err)
}

func newEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := &websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := Upgrade(w, r, upgrader, 0)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			f, err := ws.ReadFrame()
			if err != nil {
				return
			}
			if err := ws.WriteFrame(f); err != nil {
				return
			}
		}
	}))
}

func TestWebSocketPreservesCodecPerMessage(t *testing.T) {
	srv := newEchoServer(t)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	tr, err := WebSocketDialer{URL: url, PingInterval: time.Second}.Dial(context.Background())
	require.NoError(t, err)
	defer tr.Close()

	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary} {
		require.NoError(t, tr.WriteFrame(&Frame{Codec: ct, Body: []byte(`{"n":1}`)}))
		f, err := tr.ReadFrame()
		require.NoError(t, err)
		require.Equal(t, ct, f.Codec)
		require.Equal(t, `{"n":1}`, string(f.Body))
	}
}

func TestWebSocketDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, err := WebSocketDialer{URL: url}.Dial(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
}

func TestNewDialer(t *testing.T) {
	d, err := NewDialer("ws://localhost:50052/ws", DialOptions{})
	require.NoError(t, err)
	require.IsType(t, WebSocketDialer{}, d)

	d, err = NewDialer("tcp://127.0.0.1:50053", DialOptions{Heartbeat: time.Second})
	require.NoError(t, err)
	require.Equal(t, FramedDialer{Addr: "127.0.0.1:50053", Heartbeat: time.Second}, d)

	_, err = NewDialer("http://localhost", DialOptions{})
	require.Error(t, err)
	_, err = NewDialer("tcp://", DialOptions{})
	require.Error(t, err)
}
