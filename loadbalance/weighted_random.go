package loadbalance

import (
	"fmt"
	"math/rand"

	"mini-irc/registry"
)

// WeightedRandomBalancer picks an instance at random with probability
// proportional to its registered weight. Instances without a weight count
// as weight 1, so a registry of unweighted servers degrades to uniform.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(instances []registry.ServerInstance) (*registry.ServerInstance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("no instances available")
	}

	totalWeight := 0
	for _, v := range instances {
		totalWeight += weightOf(v)
	}

	r := rand.Intn(totalWeight)
	for i, v := range instances {
		r -= weightOf(v)
		if r < 0 {
			return &instances[i], nil
		}
	}

	return nil, fmt.Errorf("unexpected error in weighted random selection")
}

func weightOf(in registry.ServerInstance) int {
	if in.Weight <= 0 {
		return 1
	}
	return in.Weight
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
