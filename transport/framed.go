package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"rpcbridge/codec"
	"rpcbridge/protocol"
)

// Framed is a Transport over a raw byte stream using the protocol package's frame header.
//
// It enables many concurrent calls over one TCP connection for non-browser peers. Reads are
// sequential (one reader goroutine), writes are serialized by writeMu so frames from different
// calls never interleave.
type Framed struct {
	conn      net.Conn
	outbound  protocol.MsgType // MsgTypeRequest on the client side, MsgTypeResponse on the server side
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// NewFramed wraps conn. A positive heartbeat interval starts a goroutine that sends empty
// heartbeat frames so the peer and any middlebox see traffic on idle connections.
func NewFramed(conn net.Conn, outbound protocol.MsgType, heartbeat time.Duration) *Framed {
	t := &Framed{
		conn:     conn,
		outbound: outbound,
		done:     make(chan struct{}),
	}
	if heartbeat > 0 {
		go t.heartbeatLoop(heartbeat)
	}
	return t
}

// ReadFrame returns the next envelope frame, skipping heartbeats.
func (t *Framed) ReadFrame() (*Frame, error) {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			select {
			case <-t.done:
				return nil, io.EOF
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil, io.EOF
			}
			return nil, err
		}
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}
		return &Frame{Codec: codec.CodecType(header.CodecType), Body: body}, nil
	}
}

func (t *Framed) WriteFrame(f *Frame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return protocol.Encode(t.conn, &protocol.Header{
		CodecType: byte(f.Codec),
		MsgType:   t.outbound,
	}, f.Body)
}

func (t *Framed) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}

// RemoteAddr returns the peer address of the underlying connection.
func (t *Framed) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

func (t *Framed) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		t.writeMu.Lock()
		err := protocol.Encode(t.conn, &protocol.Header{MsgType: protocol.MsgTypeHeartbeat}, nil)
		t.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// FramedDialer dials a framed TCP bridge endpoint.
type FramedDialer struct {
	Network   string // defaults to "tcp"
	Addr      string
	Timeout   time.Duration
	Heartbeat time.Duration
}

func (d FramedDialer) Dial(ctx context.Context) (Transport, error) {
	network := d.Network
	if network == "" {
		network = "tcp"
	}
	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, network, d.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, d.Addr, err)
	}
	return NewFramed(conn, protocol.MsgTypeRequest, d.Heartbeat), nil
}

// Pipe returns the two ends of an in-memory framed connection: client writes requests,
// server writes responses. Useful for testing.
func Pipe() (client, server *Framed) {
	c1, c2 := net.Pipe()
	return NewFramed(c1, protocol.MsgTypeRequest, 0), NewFramed(c2, protocol.MsgTypeResponse, 0)
}
