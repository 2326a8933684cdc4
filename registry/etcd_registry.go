// Package registry provides the etcd-based implementation of the Registry
// interface.
//
// Chat servers live under a common key prefix:
//
//	Key:   /mini-irc/servers/{addr}
//	Value: JSON-encoded ServerInstance
//
// Registration uses TTL-based leases: if a server crashes, its lease expires
// and the entry disappears on its own, so clients never discover a ghost
// instance.
package registry

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const prefix = "/mini-irc/servers/"

// EtcdRegistry implements Registry using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines
}

// NewEtcdRegistry creates a registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

// Register publishes a server instance with a TTL lease and starts KeepAlive
// to renew it in the background. If KeepAlive stops (crash, partition), the
// entry auto-expires after the TTL.
func (r *EtcdRegistry) Register(ctx context.Context, instance ServerInstance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, prefix+instance.Addr, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}

	// Drain KeepAlive responses so the channel never fills up.
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes a server instance. Called during graceful shutdown,
// before the listener closes.
func (r *EtcdRegistry) Deregister(ctx context.Context, addr string) error {
	_, err := r.client.Delete(ctx, prefix+addr)
	return err
}

// Discover returns all currently registered server instances.
func (r *EtcdRegistry) Discover(ctx context.Context) ([]ServerInstance, error) {
	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]ServerInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServerInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // skip malformed entries
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch monitors the server prefix and emits the full instance list whenever
// it changes (registration, deregistration, lease expiry). Uses etcd's
// server-push Watch API rather than polling.
func (r *EtcdRegistry) Watch(ctx context.Context) <-chan []ServerInstance {
	ch := make(chan []ServerInstance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, prefix, clientv3.WithPrefix())
		for range watchChan {
			// On any change, re-fetch the full list; simpler than folding
			// individual watch events into local state.
			instances, err := r.Discover(ctx)
			if err != nil {
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

// Close releases the underlying etcd client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
