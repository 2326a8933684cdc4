// Package client implements the mini-irc client library: one connection to a
// server, one method per protocol verb, and the correlation engine that turns
// the server's asynchronous frame stream into call-and-reply semantics.
//
// A background receive loop reads frames and routes each one by handler tag:
// first to the pending call registered for that tag, otherwise to a durable
// handler installed with AddHandler, otherwise the frame is dropped.
//
//	Echo ───install(echo)──┐
//	MsgRoom ──install(room_msgd, no_room)──┼──→ single TCP conn ──→ Server
//	                                       │
//	recvLoop: ←── frame(room_msgd) → pending["room_msgd"] → MsgRoom returns
//
// One call may be in flight per reply tag at a time; a second call that
// would wait on the same tag fails with ErrCallInFlight. Server-push frames
// such as broadcast belong in durable handlers.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"mini-irc/message"
	"mini-irc/protocol"
)

var (
	// ErrConnectionReset reports a connection that died mid-call. Every
	// pending call fails with it, and all later calls fail immediately.
	ErrConnectionReset = errors.New("client: connection reset")

	// ErrNotIdentified reports a gated call issued before Identify
	// completed. Nothing is written to the wire.
	ErrNotIdentified = errors.New("client: not identified")

	// ErrNameTaken reports an Identify refused because the name is owned by
	// another connection (or contains a colon).
	ErrNameTaken = errors.New("client: name already taken")

	// ErrNoSuchRoom reports a verb aimed at a room the server doesn't know.
	ErrNoSuchRoom = errors.New("client: no such room")

	// ErrNoSuchClient reports a relay aimed at an unknown client name.
	ErrNoSuchClient = errors.New("client: no such client")

	// ErrCallInFlight reports two concurrent calls colliding on the same
	// reply tag. This is a caller bug, not a protocol condition.
	ErrCallInFlight = errors.New("client: call already in flight for reply tag")
)

// call is a one-shot completion slot awaiting one reply tag. It completes
// exactly once: with the reply frame, or never (the waiter observes the
// disconnect channel or its context instead).
type call struct {
	tag  string
	done chan *protocol.Frame // buffered; the receive loop never blocks on it
}

// Option configures a Client at construction.
type Option func(*Client)

// WithLogger sets the client's logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// Client owns one connection to a mini-irc server.
type Client struct {
	conn net.Conn
	log  zerolog.Logger

	writeMu sync.Mutex // serializes frame writes

	mu         sync.Mutex
	pending    map[string]*call                 // reply tag → one-shot slot
	handlers   map[string]func(*protocol.Frame) // durable server-push handlers
	identified bool
	closed     bool

	disconnected chan struct{} // closed when the receive loop exits
	closeOnce    sync.Once
}

// New wraps an established connection and starts the receive loop. The
// client takes ownership of conn.
func New(conn net.Conn, opts ...Option) *Client {
	c := &Client{
		conn:         conn,
		log:          zerolog.Nop(),
		pending:      make(map[string]*call),
		handlers:     make(map[string]func(*protocol.Frame)),
		disconnected: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.recvLoop()
	return c
}

// Dial connects to a server and returns a ready client.
func Dial(network, address string, opts ...Option) (*Client, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	return New(conn, opts...), nil
}

// Disconnected is closed when the connection is gone, whatever the cause.
// It participates in every call wait and is exposed for callers that manage
// several connections.
func (c *Client) Disconnected() <-chan struct{} {
	return c.disconnected
}

// AddHandler installs a durable handler for a server-push tag such as
// broadcast or client_msg. The handler runs on the receive loop: if it
// blocks, frame delivery stops. Pending calls take precedence for the
// same tag.
func (c *Client) AddHandler(tag string, h func(*protocol.Frame)) {
	c.mu.Lock()
	c.handlers[tag] = h
	c.mu.Unlock()
}

// RemoveHandler uninstalls a durable handler.
func (c *Client) RemoveHandler(tag string) {
	c.mu.Lock()
	delete(c.handlers, tag)
	c.mu.Unlock()
}

// recvLoop is the single reader of the connection. TCP is a byte stream, so
// frame boundaries only parse correctly with one sequential reader.
func (c *Client) recvLoop() {
	for {
		f, err := protocol.Decode(c.conn)
		if err != nil {
			c.teardown(err)
			return
		}
		c.deliver(f)
	}
}

// deliver routes one inbound frame: pending call first, durable handler
// second, dropped otherwise.
func (c *Client) deliver(f *protocol.Frame) {
	c.mu.Lock()
	if cl, ok := c.pending[f.Handler]; ok {
		delete(c.pending, f.Handler)
		c.mu.Unlock()
		cl.done <- f
		return
	}
	h := c.handlers[f.Handler]
	c.mu.Unlock()

	if h != nil {
		h(f)
		return
	}
	c.log.Debug().Str("tag", f.Handler).Msg("unrouted frame dropped")
}

// teardown marks the client dead and wakes every waiter. Pending slots are
// cleared; their waiters observe the disconnected channel and fail with
// ErrConnectionReset.
func (c *Client) teardown(err error) {
	c.mu.Lock()
	c.closed = true
	c.pending = make(map[string]*call)
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.disconnected) })
	c.conn.Close()

	if err != nil && !errors.Is(err, net.ErrClosed) {
		c.log.Debug().Err(err).Msg("connection closed")
	}
}

// install registers one one-shot slot per reply tag, all or nothing.
func (c *Client) install(tags ...string) ([]*call, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrConnectionReset
	}
	for _, tag := range tags {
		if _, busy := c.pending[tag]; busy {
			return nil, fmt.Errorf("%w: %s", ErrCallInFlight, tag)
		}
	}

	calls := make([]*call, len(tags))
	for i, tag := range tags {
		cl := &call{tag: tag, done: make(chan *protocol.Frame, 1)}
		c.pending[tag] = cl
		calls[i] = cl
	}
	return calls, nil
}

// cancel removes slots that are still installed. The winning slot of a call
// was already removed by deliver; this cleans up the losers.
func (c *Client) cancel(calls []*call) {
	c.mu.Lock()
	for _, cl := range calls {
		if c.pending[cl.tag] == cl {
			delete(c.pending, cl.tag)
		}
	}
	c.mu.Unlock()
}

// send writes one frame. Writes after disconnection fail fast without
// touching the wire.
func (c *Client) send(f *protocol.Frame) error {
	select {
	case <-c.disconnected:
		return ErrConnectionReset
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := protocol.Encode(c.conn, f); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionReset, err)
	}
	return nil
}

// roundTrip writes req and waits for the first of: a reply carrying one of
// the given tags, the disconnect signal, or ctx. Disconnection wins as
// ErrConnectionReset; otherwise the losing slot is cancelled and the winning
// frame returned.
func (c *Client) roundTrip(ctx context.Context, req *protocol.Frame, tags ...string) (*protocol.Frame, error) {
	calls, err := c.install(tags...)
	if err != nil {
		return nil, err
	}
	if err := c.send(req); err != nil {
		c.cancel(calls)
		return nil, err
	}

	// A nil channel blocks forever, so single-slot calls just never select
	// the second case.
	done0 := calls[0].done
	var done1 chan *protocol.Frame
	if len(calls) > 1 {
		done1 = calls[1].done
	}

	select {
	case f := <-done0:
		c.cancel(calls)
		return f, nil
	case f := <-done1:
		c.cancel(calls)
		return f, nil
	case <-c.disconnected:
		c.cancel(calls)
		return nil, ErrConnectionReset
	case <-ctx.Done():
		c.cancel(calls)
		return nil, ctx.Err()
	}
}

// requireIdentified gates the room and messaging verbs client-side, so a
// misuse fails locally instead of bouncing off the server's gate.
func (c *Client) requireIdentified() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionReset
	}
	if !c.identified {
		return ErrNotIdentified
	}
	return nil
}

// Echo round-trips text through the server unchanged.
func (c *Client) Echo(ctx context.Context, text string) (string, error) {
	f, err := c.roundTrip(ctx, message.Echo(text), message.TagEcho)
	if err != nil {
		return "", err
	}
	return string(f.Payload), nil
}

// Identify claims name on this connection. Once it succeeds the gated verbs
// become available.
func (c *Client) Identify(ctx context.Context, name string) error {
	f, err := c.roundTrip(ctx, message.Identify(name), message.TagIdentified, message.TagIDTaken)
	if err != nil {
		return err
	}
	if f.Handler == message.TagIDTaken {
		return fmt.Errorf("%w: %s", ErrNameTaken, name)
	}

	c.mu.Lock()
	c.identified = true
	c.mu.Unlock()
	c.log.Debug().Str("name", name).Msg("identified")
	return nil
}

// CreateRoom creates a room. Creating an existing room succeeds.
func (c *Client) CreateRoom(ctx context.Context, room string) error {
	if err := c.requireIdentified(); err != nil {
		return err
	}
	_, err := c.roundTrip(ctx, message.CreateRoom(room), message.TagRoomCreated)
	return err
}

// ListRooms returns all room names in creation order.
func (c *Client) ListRooms(ctx context.Context) ([]string, error) {
	if err := c.requireIdentified(); err != nil {
		return nil, err
	}
	f, err := c.roundTrip(ctx, message.ListRooms(), message.TagRoomList)
	if err != nil {
		return nil, err
	}
	return message.SplitNames(f.Payload), nil
}

// JoinRoom joins a room, creating it if it does not exist yet.
func (c *Client) JoinRoom(ctx context.Context, room string) error {
	if err := c.requireIdentified(); err != nil {
		return err
	}
	_, err := c.roundTrip(ctx, message.JoinRoom(room), message.TagRoomJoined)
	return err
}

// LeaveRoom leaves a room. Leaving a room the client is not in succeeds.
func (c *Client) LeaveRoom(ctx context.Context, room string) error {
	if err := c.requireIdentified(); err != nil {
		return err
	}
	_, err := c.roundTrip(ctx, message.LeaveRoom(room), message.TagRoomLeft)
	return err
}

// RoomMembers returns the member names of room in join order, or
// ErrNoSuchRoom.
func (c *Client) RoomMembers(ctx context.Context, room string) ([]string, error) {
	if err := c.requireIdentified(); err != nil {
		return nil, err
	}
	f, err := c.roundTrip(ctx, message.RoomMembers(room), message.TagMemberList, message.TagNoRoom)
	if err != nil {
		return nil, err
	}
	if f.Handler == message.TagNoRoom {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchRoom, string(f.Payload))
	}
	return message.SplitNames(f.Payload), nil
}

// MsgRoom broadcasts body to every member of room, the caller included when
// it is a member. Returns ErrNoSuchRoom if the room does not exist.
func (c *Client) MsgRoom(ctx context.Context, room string, body []byte) error {
	if err := c.requireIdentified(); err != nil {
		return err
	}
	f, err := c.roundTrip(ctx, message.MsgRoom(room, body), message.TagRoomMsgd, message.TagNoRoom)
	if err != nil {
		return err
	}
	if f.Handler == message.TagNoRoom {
		return fmt.Errorf("%w: %s", ErrNoSuchRoom, string(f.Payload))
	}
	return nil
}

// MsgClient relays body to the named client. Returns ErrNoSuchClient if no
// connection owns that name.
func (c *Client) MsgClient(ctx context.Context, target string, body []byte) error {
	if err := c.requireIdentified(); err != nil {
		return err
	}
	f, err := c.roundTrip(ctx, message.MsgClient(target, body), message.TagClientMsgd, message.TagNoClient)
	if err != nil {
		return err
	}
	if f.Handler == message.TagNoClient {
		return fmt.Errorf("%w: %s", ErrNoSuchClient, string(f.Payload))
	}
	return nil
}

// Disconnect sends terminate and closes the connection. The server releases
// the client's name before closing its side; locally, every pending call
// fails with ErrConnectionReset.
func (c *Client) Disconnect() error {
	err := c.send(message.Terminate())
	c.teardown(nil)
	if err != nil && !errors.Is(err, ErrConnectionReset) {
		return err
	}
	return nil
}
