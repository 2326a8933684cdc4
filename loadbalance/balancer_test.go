package loadbalance

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-irc/registry"
)

var testInstances = []registry.ServerInstance{
	{Addr: ":8001", Weight: 10, Version: "1.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		inst, err := b.Pick(testInstances)
		require.NoError(t, err)
		results[i] = inst.Addr
	}

	// Fourth pick wraps around to the first.
	inst, err := b.Pick(testInstances)
	require.NoError(t, err)
	assert.Equal(t, results[0], inst.Addr)
}

func TestRoundRobinEmpty(t *testing.T) {
	b := &RoundRobinBalancer{}
	_, err := b.Pick(nil)
	assert.Error(t, err)
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick(testInstances)
		require.NoError(t, err)
		counts[inst.Addr]++
	}

	// Weight ratio is 10:5:10, so :8001 should land about twice as often
	// as :8002.
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	assert.InDelta(t, 2.0, ratio, 0.5, "weight ratio :8001/:8002")
}

func TestWeightedRandomUnweighted(t *testing.T) {
	b := &WeightedRandomBalancer{}
	unweighted := []registry.ServerInstance{{Addr: ":8001"}, {Addr: ":8002"}}

	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		inst, err := b.Pick(unweighted)
		require.NoError(t, err)
		counts[inst.Addr]++
	}
	assert.Len(t, counts, 2, "zero weights fall back to uniform selection")
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()
	for i := range testInstances {
		b.Add(&testInstances[i])
	}

	// The same client name always maps to the same server.
	inst1, err := b.PickKey("alice")
	require.NoError(t, err)
	inst2, err := b.PickKey("alice")
	require.NoError(t, err)
	assert.Equal(t, inst1.Addr, inst2.Addr)

	// Many distinct names should spread across the ring.
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, err := b.PickKey(fmt.Sprintf("client-%d", i))
		require.NoError(t, err)
		seen[inst.Addr] = true
	}
	assert.GreaterOrEqual(t, len(seen), 2)
}

func TestConsistentHashEmpty(t *testing.T) {
	b := NewConsistentHashBalancer()
	_, err := b.PickKey("alice")
	assert.Error(t, err)
}
