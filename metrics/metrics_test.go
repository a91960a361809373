package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestClientCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewClient(reg)

	m.CallStarted("unary")
	m.CallStarted("stream")
	m.CallFinished("unary", "ok")
	m.FrameDropped("stale")
	m.FrameDropped("stale")

	require.Equal(t, 1.0, testutil.ToFloat64(m.pending))
	require.Equal(t, 2.0, testutil.ToFloat64(m.dropped.WithLabelValues("stale")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.callsFinished.WithLabelValues("unary", "ok")))
}

func TestServerCounters(t *testing.T) {
	m := NewServer(prometheus.NewRegistry())
	m.ConnOpened()
	m.RequestDone("SayHello", nil, time.Millisecond)
	m.RequestDone("SayHello", errors.New("boom"), time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(m.connections))
	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("SayHello", "error")))
}

func TestNilReceivers(t *testing.T) {
	var c *Client
	var s *Server
	c.CallStarted("unary")
	c.CallFinished("unary", "ok")
	c.FrameDropped("stale")
	s.ConnOpened()
	s.RequestDone("x", nil, 0)
	s.ConnClosed()
}
