package loadbalance

import (
	"hash/crc32"
	"sort"
	"strconv"
	"strings"
	"sync"

	"rpcbridge/discovery"
)

// ConsistentHashBalancer maps one key to an endpoint using a hash ring.
// The same key keeps landing on the same bridge until the endpoint set changes, and then only
// the keys owned by the departed endpoint move.
//
// Virtual nodes: each real endpoint is mapped to N virtual nodes on the ring.
// Without virtual nodes, 3 endpoints might cluster together on the ring,
// causing uneven load distribution.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	key      string
	replicas int // Virtual nodes per real endpoint

	mu    sync.Mutex
	sig   string         // Endpoint set the ring was built for
	ring  []uint32       // Sorted hash values on the ring
	nodes map[uint32]int // Hash value → index into the instances slice
}

// NewConsistentHashBalancer creates a ring with 100 virtual nodes per endpoint that always
// hashes key, typically a client identity.
func NewConsistentHashBalancer(key string) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{key: key, replicas: 100}
}

func (b *ConsistentHashBalancer) Pick(instances []discovery.Instance) (*discovery.Instance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rebuild(instances)
	return &instances[b.lookup(b.key)], nil
}

// rebuild refreshes the ring when the endpoint set differs from the last Pick.
func (b *ConsistentHashBalancer) rebuild(instances []discovery.Instance) {
	endpoints := make([]string, len(instances))
	for i, in := range instances {
		endpoints[i] = in.Endpoint
	}
	sig := strings.Join(endpoints, "\n")
	if sig == b.sig && b.nodes != nil {
		return
	}

	b.sig = sig
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]int, len(instances)*b.replicas)
	for i, ep := range endpoints {
		for v := 0; v < b.replicas; v++ {
			hash := crc32.ChecksumIEEE([]byte(ep + "#" + strconv.Itoa(v)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = i
		}
	}
	// Keep the ring sorted for binary search in lookup()
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// lookup hashes key, then binary-searches for the first node >= hash on the ring.
// If the hash is larger than all nodes, it wraps around to the first node (ring property).
func (b *ConsistentHashBalancer) lookup(key string) int {
	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]]
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
