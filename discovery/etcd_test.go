package discovery

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestEtcdRegisterAndDiscover needs a running etcd; set RPCBRIDGE_TEST_ETCD=127.0.0.1:2379.
func TestEtcdRegisterAndDiscover(t *testing.T) {
	endpoints := os.Getenv("RPCBRIDGE_TEST_ETCD")
	if endpoints == "" {
		t.Skip("RPCBRIDGE_TEST_ETCD not set")
	}
	reg, err := NewEtcdRegistry(strings.Split(endpoints, ","), nil)
	require.NoError(t, err)
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	name := "test-" + time.Now().Format("150405.000000")
	inst1 := Instance{Endpoint: "ws://127.0.0.1:8001/ws", Weight: 10, Version: "1.0"}
	inst2 := Instance{Endpoint: "tcp://127.0.0.1:8002", Weight: 5, Version: "1.0"}

	updates := reg.Watch(ctx, name)
	require.NoError(t, reg.Register(ctx, name, inst1, 10))
	require.NoError(t, waitFor(t, updates, 1))
	require.NoError(t, reg.Register(ctx, name, inst2, 10))
	require.NoError(t, waitFor(t, updates, 2))

	instances, err := reg.Discover(ctx, name)
	require.NoError(t, err)
	require.Len(t, instances, 2)

	require.NoError(t, reg.Deregister(ctx, name, inst1.Endpoint))
	instances, err = reg.Discover(ctx, name)
	require.NoError(t, err)
	require.Equal(t, []Instance{inst2}, instances)
	require.NoError(t, waitFor(t, updates, 1))

	require.NoError(t, reg.Deregister(ctx, name, inst2.Endpoint))
}

// waitFor reads watch updates until one lists n instances.
func waitFor(t *testing.T, updates <-chan []Instance, n int) error {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case list, ok := <-updates:
			if !ok {
				return fmt.Errorf("watch closed waiting for %d instances", n)
			}
			if len(list) == n {
				return nil
			}
		case <-timeout:
			return fmt.Errorf("no update with %d instances", n)
		}
	}
}
