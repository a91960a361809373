package discovery

// etcd is used as a "distributed phonebook" for bridge endpoints:
//
//	Key:   /rpcbridge/{name}/{endpoint}
//	Value: JSON-encoded Instance
//
// Registration uses TTL-based leases: if the server crashes, the lease expires and the entry is
// removed, so clients never dial a ghost endpoint.

import (
	"context"
	"encoding/json"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyRoot = "/rpcbridge/"

// EtcdRegistry implements Registry using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	logger *zap.Logger
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
		Logger:    logger.Named("etcd"),
	})
	if err != nil {
		return nil, fmt.Errorf("etcd client: %w", err)
	}
	return &EtcdRegistry{client: c, logger: logger}, nil
}

func key(name, endpoint string) string {
	return keyRoot + name + "/" + endpoint
}

func prefix(name string) string {
	return keyRoot + name + "/"
}

// Register puts instance under a lease of ttl seconds and keeps the lease alive until ctx ends.
//
// The lease id is a local variable, not stored on the struct, so several servers may share one
// EtcdRegistry.
func (r *EtcdRegistry) Register(ctx context.Context, name string, instance Instance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	if _, err = r.client.Put(ctx, key(name, instance.Endpoint), string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("put %s: %w", key(name, instance.Endpoint), err)
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("keepalive: %w", err)
	}

	// Consume KeepAlive responses to prevent the channel from filling up.
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive stopped", zap.String("name", name), zap.String("endpoint", instance.Endpoint))
	}()
	return nil
}

// Deregister removes an endpoint. Called during graceful shutdown before closing listeners.
func (r *EtcdRegistry) Deregister(ctx context.Context, name string, endpoint string) error {
	_, err := r.client.Delete(ctx, key(name, endpoint))
	return err
}

// Discover returns all currently registered endpoints for name.
func (r *EtcdRegistry) Discover(ctx context.Context, name string) ([]Instance, error) {
	instances, _, err := r.list(ctx, name)
	return instances, err
}

// list returns the endpoints for name and the store revision they were read at.
func (r *EtcdRegistry) list(ctx context.Context, name string) ([]Instance, int64, error) {
	resp, err := r.client.Get(ctx, prefix(name), clientv3.WithPrefix())
	if err != nil {
		return nil, 0, err
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("skipping malformed endpoint entry", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}
	return instances, resp.Header.Revision, nil
}

// Watch emits the current endpoint list, then the full list again whenever anything under name
// changes. The channel is closed when ctx ends.
func (r *EtcdRegistry) Watch(ctx context.Context, name string) <-chan []Instance {
	ch := make(chan []Instance, 1)

	go func() {
		defer close(ch)
		instances, rev, err := r.list(ctx, name)
		if err != nil {
			r.logger.Warn("list endpoints", zap.String("name", name), zap.Error(err))
			return
		}
		select {
		case ch <- instances:
		case <-ctx.Done():
			return
		}

		// Watching from the next revision misses nothing written after the initial read.
		for range r.client.Watch(ctx, prefix(name), clientv3.WithPrefix(), clientv3.WithRev(rev+1)) {
			// Re-fetch the full list rather than applying individual events.
			instances, _, err := r.list(ctx, name)
			if err != nil {
				r.logger.Warn("refresh endpoints", zap.String("name", name), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Close releases the etcd client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
