package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"rpcbridge/transport"
)

// State is the lifecycle state of a Conn.
//
//	Idle ──Connect──► Connecting ──ready──► Open ──close/error──► Closed
//	                       └──────────dial error / Close──────────►┘
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Conn owns the single physical connection of a client. It dials the transport, runs the read
// loop and exposes Send only while open. A Conn is single use: once Closed it stays Closed.
type Conn struct {
	dialer  transport.Dialer
	logger  *zap.Logger
	onFrame func(*transport.Frame)
	onClose func(cause error)

	mu    sync.Mutex
	state State
	tr    transport.Transport
	cause error
	done  chan struct{}
}

// NewConn returns an idle Conn. onFrame runs on the read goroutine for every inbound frame, one
// at a time in arrival order. onClose runs exactly once after the Conn reaches Closed from
// Connecting or Open, with the transport already closed.
func NewConn(d transport.Dialer, logger *zap.Logger, onFrame func(*transport.Frame), onClose func(cause error)) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{
		dialer:  d,
		logger:  logger,
		onFrame: onFrame,
		onClose: onClose,
		done:    make(chan struct{}),
	}
}

// Connect dials the transport and starts the read loop. It returns once the connection is open,
// or with the dial error, in which case the Conn is Closed.
func (m *Conn) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateIdle:
		m.state = StateConnecting
	case StateClosed:
		m.mu.Unlock()
		return ErrConnectionClosed
	default:
		m.mu.Unlock()
		return ErrAlreadyConnecting
	}
	m.mu.Unlock()

	m.logger.Debug("connecting")
	tr, err := m.dialer.Dial(ctx)
	if err != nil {
		m.shutdown(err)
		return fmt.Errorf("connect: %w", err)
	}

	m.mu.Lock()
	if m.state != StateConnecting {
		// Close won the race while the dial was in flight.
		m.mu.Unlock()
		_ = tr.Close()
		return ErrConnectionClosed
	}
	m.state = StateOpen
	m.tr = tr
	m.mu.Unlock()

	m.logger.Info("connection open")
	go m.readLoop(tr)
	return nil
}

// Send writes one frame. It fails with ErrNotConnected unless the Conn is open.
func (m *Conn) Send(f *transport.Frame) error {
	m.mu.Lock()
	state, tr := m.state, m.tr
	m.mu.Unlock()
	if state != StateOpen {
		return ErrNotConnected
	}
	if err := tr.WriteFrame(f); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Close forces the Conn to Closed and drains it. It is idempotent and a no-op while Idle.
func (m *Conn) Close() error {
	m.shutdown(nil)
	return nil
}

// State returns the current lifecycle state.
func (m *Conn) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Done is closed when the Conn reaches Closed, after onClose has returned.
func (m *Conn) Done() <-chan struct{} {
	return m.done
}

// Err returns why the Conn closed: nil after an explicit Close or a clean peer close.
func (m *Conn) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cause
}

// readLoop runs in a dedicated goroutine. Reads must be sequential to keep message boundaries,
// and routing one frame at a time is what keeps per-id ordering intact.
func (m *Conn) readLoop(tr transport.Transport) {
	for {
		f, err := tr.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			m.shutdown(err)
			return
		}
		m.onFrame(f)
	}
}

// shutdown moves to Closed once. State flips before the drain so that no new call can register
// after pending calls have been rejected.
func (m *Conn) shutdown(cause error) {
	m.mu.Lock()
	if m.state == StateIdle || m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = StateClosed
	m.cause = cause
	tr := m.tr
	m.mu.Unlock()

	if tr != nil {
		_ = tr.Close()
	}
	defer close(m.done)

	if cause != nil {
		m.logger.Warn("connection closed", zap.Stringer("from", prev), zap.Error(cause))
	} else {
		m.logger.Info("connection closed", zap.Stringer("from", prev))
	}
	if m.onClose != nil {
		m.onClose(cause)
	}
}
