// Package loadbalance picks which bridge endpoint a client dials.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity bridges
//   - WeightedRandom:  heterogeneous bridges (different CPU/memory)
//   - ConsistentHash:  pin one client identity to the same bridge
package loadbalance

import (
	"errors"
	"fmt"

	"rpcbridge/discovery"
)

// ErrNoInstances is returned by Pick when discovery found nothing to dial.
var ErrNoInstances = errors.New("no instances available")

// Balancer is the interface for load balancing strategies.
// The client calls Pick() before each dial to select a target endpoint.
type Balancer interface {
	// Pick selects one instance from the available list.
	// Must be goroutine-safe.
	Pick(instances []discovery.Instance) (*discovery.Instance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name. key is only used by "consistent_hash".
func New(name, key string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(key), nil
	}
	return nil, fmt.Errorf("unknown balancer %q", name)
}
