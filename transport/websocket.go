package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rpcbridge/codec"
)

const (
	writeWait               = 10 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
)

// WebSocket is a Transport over a gorilla WebSocket connection. JSON frames travel as text
// messages and binary-codec frames as binary messages, so a browser peer can tell them apart.
type WebSocket struct {
	conn         *websocket.Conn
	pingInterval time.Duration
	writeMu      sync.Mutex // gorilla allows one concurrent writer
	closeOnce    sync.Once
	done         chan struct{}
}

// NewWebSocket wraps conn. When pingInterval is positive a ping is sent every interval and a
// peer that stays silent for two intervals is treated as gone.
func NewWebSocket(conn *websocket.Conn, pingInterval time.Duration) *WebSocket {
	ws := &WebSocket{
		conn:         conn,
		pingInterval: pingInterval,
		done:         make(chan struct{}),
	}
	if pingInterval > 0 {
		ws.extendReadDeadline()
		conn.SetPongHandler(func(string) error {
			ws.extendReadDeadline()
			return nil
		})
		go ws.pingLoop()
	}
	return ws
}

func (ws *WebSocket) ReadFrame() (*Frame, error) {
	mt, data, err := ws.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		select {
		case <-ws.done:
			return nil, io.EOF
		default:
		}
		return nil, err
	}
	ws.extendReadDeadline()

	f := &Frame{Body: data, Codec: codec.CodecTypeJSON}
	if mt == websocket.BinaryMessage {
		f.Codec = codec.CodecTypeBinary
	}
	return f, nil
}

func (ws *WebSocket) WriteFrame(f *Frame) error {
	mt := websocket.TextMessage
	if f.Codec == codec.CodecTypeBinary {
		mt = websocket.BinaryMessage
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	if err := ws.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ws.conn.WriteMessage(mt, f.Body)
}

// Close sends a normal closure message and closes the connection. Safe to call repeatedly.
func (ws *WebSocket) Close() error {
	var err error
	ws.closeOnce.Do(func() {
		close(ws.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = ws.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = ws.conn.Close()
	})
	return err
}

func (ws *WebSocket) extendReadDeadline() {
	if ws.pingInterval > 0 {
		_ = ws.conn.SetReadDeadline(time.Now().Add(2 * ws.pingInterval))
	}
}

// pingLoop keeps intermediaries from idling the connection out and detects dead peers.
// WriteControl may run concurrently with WriteMessage, so it does not take writeMu.
func (ws *WebSocket) pingLoop() {
	ticker := time.NewTicker(ws.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ws.done:
			return
		case <-ticker.C:
			if err := ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// WebSocketDialer dials a bridge endpoint such as ws://localhost:50052/ws.
type WebSocketDialer struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
}

func (d WebSocketDialer) Dial(ctx context.Context) (Transport, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	conn, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			return nil, fmt.Errorf("dial websocket %s: %w (status %d)", d.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial websocket %s: %w", d.URL, err)
	}
	return NewWebSocket(conn, d.PingInterval), nil
}

// Upgrade upgrades an HTTP request to a WebSocket transport on the server side.
func Upgrade(w http.ResponseWriter, r *http.Request, upgrader *websocket.Upgrader, pingInterval time.Duration) (*WebSocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocket(conn, pingInterval), nil
}
