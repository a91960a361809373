package client

import (
	"context"
	"fmt"
	"sync"

	"rpcbridge/discovery"
	"rpcbridge/loadbalance"
	"rpcbridge/transport"
)

// DiscoveryDialer resolves a bridge name through a discovery registry and dials the endpoint
// the balancer picks.
type DiscoveryDialer struct {
	Registry discovery.Registry
	Balancer loadbalance.Balancer
	Name     string
	Options  transport.DialOptions

	mu      sync.Mutex
	watched []discovery.Instance
	fresh   bool // watched holds the latest list from the registry
}

// Watch keeps the endpoint list current from registry updates until ctx ends. Meanwhile Dial
// picks from the watched list instead of querying the registry each time.
func (d *DiscoveryDialer) Watch(ctx context.Context) {
	updates := d.Registry.Watch(ctx, d.Name)
	go func() {
		for list := range updates {
			d.mu.Lock()
			d.watched, d.fresh = list, true
			d.mu.Unlock()
		}
		d.mu.Lock()
		d.watched, d.fresh = nil, false
		d.mu.Unlock()
	}()
}

func (d *DiscoveryDialer) Dial(ctx context.Context) (transport.Transport, error) {
	instances, err := d.instances(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", d.Name, err)
	}
	inst, err := d.Balancer.Pick(instances)
	if err != nil {
		return nil, fmt.Errorf("pick %s: %w", d.Name, err)
	}
	dialer, err := transport.NewDialer(inst.Endpoint, d.Options)
	if err != nil {
		return nil, err
	}
	return dialer.Dial(ctx)
}

func (d *DiscoveryDialer) instances(ctx context.Context) ([]discovery.Instance, error) {
	d.mu.Lock()
	list, fresh := d.watched, d.fresh
	d.mu.Unlock()
	if fresh {
		return list, nil
	}
	return d.Registry.Discover(ctx, d.Name)
}
