package registry

import "context"

// ServerInstance describes one chat server published for discovery.
type ServerInstance struct {
	Addr    string
	Weight  int // Weight for load balancing
	Version string
}

// Registry publishes and discovers chat server addresses. A server registers
// itself on startup and deregisters on shutdown; clients discover an instance
// to dial. Discovery is deployment-level only: servers never talk to each
// other and share no state.
type Registry interface {
	Register(ctx context.Context, instance ServerInstance, ttl int64) error
	Deregister(ctx context.Context, addr string) error
	Discover(ctx context.Context) ([]ServerInstance, error)
	Watch(ctx context.Context) <-chan []ServerInstance
}
