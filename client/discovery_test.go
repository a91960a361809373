package client_test

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rpcbridge/client"
	"rpcbridge/discovery"
	"rpcbridge/greeter"
	"rpcbridge/loadbalance"
	"rpcbridge/server"
)

func TestDiscoveryDialer(t *testing.T) {
	srv := server.NewServer()
	require.NoError(t, srv.RegisterName("", greeter.New(nil, 0)))

	hs := httptest.NewServer(srv)
	defer hs.Close()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(lis)
	defer lis.Close()

	reg := discovery.NewStatic("bridge",
		discovery.Instance{Endpoint: "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws", Weight: 1},
		discovery.Instance{Endpoint: "tcp://" + lis.Addr().String(), Weight: 1},
	)
	d := &client.DiscoveryDialer{Registry: reg, Balancer: &loadbalance.RoundRobinBalancer{}, Name: "bridge"}

	// Round robin alternates between the WebSocket and the TCP endpoint.
	for i := 0; i < 2; i++ {
		c := client.New(d)
		require.NoError(t, c.Connect(context.Background()))
		msg, err := greeter.NewClient(c).SayHello(context.Background(), "World")
		require.NoError(t, err)
		require.Equal(t, "Hello World", msg)
		require.NoError(t, c.Disconnect())
	}
}

func TestDiscoveryDialerNoEndpoints(t *testing.T) {
	d := &client.DiscoveryDialer{Registry: discovery.NewStatic("bridge"), Balancer: &loadbalance.RoundRobinBalancer{}, Name: "bridge"}
	c := client.New(d)
	err := c.Connect(context.Background())
	require.ErrorIs(t, err, loadbalance.ErrNoInstances)
	require.Equal(t, client.StateClosed, c.State())
}

// unreachableRegistry answers watches but fails every direct lookup.
type unreachableRegistry struct {
	*discovery.Static
}

func (unreachableRegistry) Discover(context.Context, string) ([]discovery.Instance, error) {
	return nil, errors.New("registry unavailable")
}

func TestDiscoveryDialerFollowsWatch(t *testing.T) {
	srv := server.NewServer()
	require.NoError(t, srv.RegisterName("", greeter.New(nil, 0)))
	hs := httptest.NewServer(srv)
	defer hs.Close()

	static := discovery.NewStatic("bridge")
	d := &client.DiscoveryDialer{Registry: unreachableRegistry{static}, Balancer: &loadbalance.RoundRobinBalancer{}, Name: "bridge"}
	connect := func() error {
		c := client.New(d)
		if err := c.Connect(context.Background()); err != nil {
			return err
		}
		return c.Disconnect()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Watch(ctx)
	require.Error(t, connect())

	inst := discovery.Instance{Endpoint: "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws", Weight: 1}
	require.NoError(t, static.Register(ctx, "bridge", inst, 0))
	require.Eventually(t, func() bool { return connect() == nil }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, static.Deregister(ctx, "bridge", inst.Endpoint))
	require.Eventually(t, func() bool { return errors.Is(connect(), loadbalance.ErrNoInstances) }, 2*time.Second, 10*time.Millisecond)

	// Once the watch ends, Dial goes back to the registry.
	cancel()
	require.Eventually(t, func() bool {
		err := connect()
		return err != nil && strings.Contains(err.Error(), "registry unavailable")
	}, 2*time.Second, 10*time.Millisecond)
}
