package loadbalance

import (
	"math/rand/v2"

	"rpcbridge/discovery"
)

// WeightedRandomBalancer picks an endpoint with probability proportional to its weight.
// A weight of zero or less counts as 1 so that unweighted registrations stay reachable.
type WeightedRandomBalancer struct{}

func weight(in discovery.Instance) int {
	if in.Weight <= 0 {
		return 1
	}
	return in.Weight
}

func (b *WeightedRandomBalancer) Pick(instances []discovery.Instance) (*discovery.Instance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	total := 0
	for _, in := range instances {
		total += weight(in)
	}

	r := rand.IntN(total)
	for i := range instances {
		r -= weight(instances[i])
		if r < 0 {
			return &instances[i], nil
		}
	}
	return &instances[len(instances)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
