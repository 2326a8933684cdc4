package test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-irc/client"
	"mini-irc/loadbalance"
	"mini-irc/message"
	"mini-irc/middleware"
	"mini-irc/protocol"
	"mini-irc/registry"
	"mini-irc/server"
)

func startServer(t testing.TB, opts ...server.Option) *server.Server {
	t.Helper()
	s := server.New(opts...)
	require.NoError(t, s.Listen("tcp", "127.0.0.1:0"))
	go s.Serve()
	t.Cleanup(func() { s.Shutdown(2 * time.Second) })
	return s
}

func dial(t testing.TB, addr string) *client.Client {
	t.Helper()
	c, err := client.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { c.Disconnect() })
	return c
}

func ctx(t testing.TB) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return c
}

// TestChatScenario drives the whole happy path through real TCP: two clients
// identify, share a room, exchange a broadcast and a direct message, inspect
// membership, and leave.
func TestChatScenario(t *testing.T) {
	s := startServer(t)
	addr := s.Addr().String()

	alice := dial(t, addr)
	bob := dial(t, addr)

	require.NoError(t, alice.Identify(ctx(t), "alice"))
	require.NoError(t, bob.Identify(ctx(t), "bob"))

	bobBroadcasts := make(chan *protocol.Frame, 4)
	bob.AddHandler(message.TagBroadcast, func(f *protocol.Frame) { bobBroadcasts <- f })
	bobDMs := make(chan *protocol.Frame, 4)
	bob.AddHandler(message.TagClientMsg, func(f *protocol.Frame) { bobDMs <- f })

	require.NoError(t, alice.CreateRoom(ctx(t), "general"))
	require.NoError(t, alice.JoinRoom(ctx(t), "general"))
	require.NoError(t, bob.JoinRoom(ctx(t), "general"))

	rooms, err := alice.ListRooms(ctx(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"general"}, rooms)

	members, err := bob.RoomMembers(ctx(t), "general")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, members, "join order preserved")

	aliceBroadcasts := make(chan *protocol.Frame, 4)
	alice.AddHandler(message.TagBroadcast, func(f *protocol.Frame) { aliceBroadcasts <- f })

	require.NoError(t, alice.MsgRoom(ctx(t), "general", []byte("hello room")))
	for name, ch := range map[string]chan *protocol.Frame{"alice": aliceBroadcasts, "bob": bobBroadcasts} {
		select {
		case f := <-ch:
			room, sender := message.BroadcastSource(f.Header)
			assert.Equal(t, "general", room)
			assert.Equal(t, "alice", sender)
			assert.Equal(t, "hello room", string(f.Payload))
		case <-time.After(2 * time.Second):
			t.Fatalf("%s never received the broadcast", name)
		}
	}

	require.NoError(t, alice.MsgClient(ctx(t), "bob", []byte("hello bob")))
	select {
	case f := <-bobDMs:
		assert.Equal(t, "alice", string(f.Header))
		assert.Equal(t, "hello bob", string(f.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("bob never received the direct message")
	}

	require.NoError(t, alice.LeaveRoom(ctx(t), "general"))
	members, err = bob.RoomMembers(ctx(t), "general")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, members)
}

// TestFullIntegrationWithEtcd covers the deployment path: a server publishes
// itself in etcd, a client discovers it through a balancer and chats.
// Skipped when no local etcd is reachable.
func TestFullIntegrationWithEtcd(t *testing.T) {
	conn, err := net.DialTimeout("tcp", "127.0.0.1:2379", 200*time.Millisecond)
	if err != nil {
		t.Skip("etcd not reachable on 127.0.0.1:2379")
	}
	conn.Close()

	reg, err := registry.NewEtcdRegistry([]string{"127.0.0.1:2379"})
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	startServer(t, server.WithRegistry(reg, ""))

	instances, err := reg.Discover(ctx(t))
	require.NoError(t, err)
	bal := &loadbalance.RoundRobinBalancer{}
	inst, err := bal.Pick(instances)
	require.NoError(t, err)

	c := dial(t, inst.Addr)
	require.NoError(t, c.Identify(ctx(t), "etcd-user"))
	got, err := c.Echo(ctx(t), "discovered")
	require.NoError(t, err)
	assert.Equal(t, "discovered", got)
}

// TestMultiServerBalancing spreads clients over two independent servers via
// the balancer. Rooms are per server, so each client sees only its own.
func TestMultiServerBalancing(t *testing.T) {
	s1 := startServer(t)
	s2 := startServer(t)

	instances := []registry.ServerInstance{
		{Addr: s1.Addr().String(), Weight: 10},
		{Addr: s2.Addr().String(), Weight: 10},
	}
	bal := &loadbalance.RoundRobinBalancer{}

	for i := 0; i < 4; i++ {
		inst, err := bal.Pick(instances)
		require.NoError(t, err)
		c := dial(t, inst.Addr)
		require.NoError(t, c.Identify(ctx(t), "user"))
		require.NoError(t, c.CreateRoom(ctx(t), "local"))
		rooms, err := c.ListRooms(ctx(t))
		require.NoError(t, err)
		assert.Equal(t, []string{"local"}, rooms)
		require.NoError(t, c.Disconnect())
	}
}

// TestMiddlewareOnWire checks that a server-side middleware sees every inbound
// frame from a real client connection.
func TestMiddlewareOnWire(t *testing.T) {
	seen := make(chan string, 8)
	s := server.New()
	s.Use(func(next middleware.Dispatch) middleware.Dispatch {
		return func(ctx context.Context, from middleware.Peer, f *protocol.Frame) error {
			seen <- f.Handler
			return next(ctx, from, f)
		}
	})
	require.NoError(t, s.Listen("tcp", "127.0.0.1:0"))
	go s.Serve()
	t.Cleanup(func() { s.Shutdown(2 * time.Second) })

	c := dial(t, s.Addr().String())
	_, err := c.Echo(ctx(t), "ping")
	require.NoError(t, err)
	require.NoError(t, c.Identify(ctx(t), "mw"))

	assert.Equal(t, message.TagEcho, <-seen)
	assert.Equal(t, message.TagIdentify, <-seen)
}
