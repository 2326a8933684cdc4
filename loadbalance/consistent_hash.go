package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"sync"

	"mini-irc/registry"
)

// ConsistentHashBalancer maps keys to instances on a hash ring, so the same
// key lands on the same server until the ring changes. Keyed by client name,
// this gives each client a stable home server across reconnects.
//
// Each real instance is mapped to N virtual nodes on the ring; without them a
// small instance count would cluster and skew the load.
type ConsistentHashBalancer struct {
	mu       sync.Mutex
	replicas int
	ring     []uint32 // sorted hash values on the ring
	nodes    map[uint32]*registry.ServerInstance
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per
// instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]*registry.ServerInstance),
	}
}

// Add places an instance onto the ring with N virtual nodes, each hashed
// from "{addr}#{i}" to spread evenly.
func (b *ConsistentHashBalancer) Add(instance *registry.ServerInstance) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := 0; i < b.replicas; i++ {
		key := fmt.Sprintf("%s#%d", instance.Addr, i)
		hash := crc32.ChecksumIEEE([]byte(key))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = instance
	}
	// Keep the ring sorted for the binary search in PickKey.
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// PickKey finds the instance responsible for key: hash it, binary-search for
// the first node at or past the hash, wrapping to the start of the ring.
//
// PickKey is key-based and therefore not part of the Balancer interface;
// callers use it directly with the client name as the key.
func (b *ConsistentHashBalancer) PickKey(key string) (*registry.ServerInstance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.ring) == 0 {
		return nil, fmt.Errorf("no instances available")
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
