// Package loadbalance provides strategies for choosing one chat server among
// the instances published in the registry.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity servers, even connection spread
//   - WeightedRandom:  heterogeneous servers (different capacity)
//   - ConsistentHash:  stable client→server affinity keyed by client name
package loadbalance

import "mini-irc/registry"

// Balancer selects one server instance from the discovered list. Called each
// time a client connects; implementations must be goroutine-safe.
type Balancer interface {
	Pick(instances []registry.ServerInstance) (*registry.ServerInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}
