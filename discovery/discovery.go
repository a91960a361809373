// Package discovery announces and finds bridge endpoints.
//
// A bridge server registers one Instance per endpoint it serves; clients look the endpoints up
// by bridge name and let a loadbalance.Balancer pick one to dial.
package discovery

import "context"

// Instance is one reachable bridge endpoint.
type Instance struct {
	Endpoint string `json:"endpoint"` // ws://host:port/ws or tcp://host:port
	Weight   int    `json:"weight"`   // Weight for load balancing
	Version  string `json:"version"`
}

type Registry interface {
	Register(ctx context.Context, name string, instance Instance, ttl int64) error
	Deregister(ctx context.Context, name string, endpoint string) error
	Discover(ctx context.Context, name string) ([]Instance, error)
	// Watch sends the current list, then the full list after every change, until ctx ends.
	Watch(ctx context.Context, name string) <-chan []Instance
}
