// Package server implements the mini-irc chat server: the accept loop, the
// per-connection read loop, the static tag dispatch table, the identification
// gate, and the client and room registries.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (read loop, one goroutine per connection)
//	  → for each frame: middleware chain → route → handler
//	    → handler mutates registries and/or writes reply/broadcast frames
//
// Handlers run under one server-wide mutex, so each (decode → dispatch →
// state mutation → replies) sequence is atomic with respect to every other
// connection and the registries need no locking of their own. Handlers are
// strictly synchronous: they never block on anything but the peers' write
// buffers.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"mini-irc/message"
	"mini-irc/middleware"
	"mini-irc/protocol"
	"mini-irc/registry"
)

// registrationTTL is the lease TTL, in seconds, used when the server
// publishes itself to a registry. KeepAlive renews it automatically.
const registrationTTL = 10

// HandlerFunc processes one inbound frame on behalf of a connection.
// Returning an error is fatal to that connection only, never to the server.
type HandlerFunc func(c *ClientConn, f *protocol.Frame) error

// Option configures a Server at construction.
type Option func(*Server)

// WithLogger sets the server's logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithHandler overlays the base dispatch table: the given handler replaces
// (or extends) the entry for tag. Overlay handlers bypass the identification
// gate unless they enforce it themselves via Server.Gate.
func WithHandler(tag string, h HandlerFunc) Option {
	return func(s *Server) { s.handlers[tag] = h }
}

// WithRegistry makes Listen publish the server in reg and Shutdown withdraw
// it. advertiseAddr is the address clients should dial; leave it empty to
// publish the bound listener address.
func WithRegistry(reg registry.Registry, advertiseAddr string) Option {
	return func(s *Server) {
		s.registry = reg
		s.advertiseAddr = advertiseAddr
	}
}

// Server owns the registry of identified clients and the registry of rooms,
// and routes every inbound frame to a handler selected by its tag.
type Server struct {
	mu        sync.Mutex
	clients   map[string]*ClientConn // identified clients by name
	rooms     map[string]*Room
	roomOrder []string // room names in creation order; list_rooms relies on it
	conns     map[*ClientConn]struct{}

	handlers    map[string]HandlerFunc
	middlewares []middleware.Middleware
	dispatch    middleware.Dispatch

	listener net.Listener
	wg       sync.WaitGroup
	shutdown atomic.Bool
	log      zerolog.Logger

	registry      registry.Registry
	advertiseAddr string
}

// New creates a server with the base dispatch table, then applies opts.
// The table is static after construction; extensibility comes from the
// WithHandler overlay, not from reflection.
func New(opts ...Option) *Server {
	s := &Server{
		clients: make(map[string]*ClientConn),
		rooms:   make(map[string]*Room),
		conns:   make(map[*ClientConn]struct{}),
		log:     zerolog.Nop(),
	}
	s.handlers = map[string]HandlerFunc{
		message.TagEcho:        s.handleEcho,
		message.TagTerminate:   s.handleTerminate,
		message.TagIdentify:    s.handleIdentify,
		message.TagCreateRoom:  s.Gate(s.handleCreateRoom),
		message.TagListRooms:   s.Gate(s.handleListRooms),
		message.TagJoinRoom:    s.Gate(s.handleJoinRoom),
		message.TagLeaveRoom:   s.Gate(s.handleLeaveRoom),
		message.TagRoomMembers: s.Gate(s.handleRoomMembers),
		message.TagMsgRoom:     s.Gate(s.handleMsgRoom),
		message.TagMsgClient:   s.Gate(s.handleMsgClient),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Use registers a middleware. Middlewares run in registration order around
// every dispatched frame. Must be called before Listen.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Gate wraps a handler with the identification gate: an unidentified caller
// gets req_id and nothing else happens.
func (s *Server) Gate(next HandlerFunc) HandlerFunc {
	return func(c *ClientConn, f *protocol.Frame) error {
		if !c.identified {
			return c.Send(message.ReqID())
		}
		return next(c, f)
	}
}

// Listen binds the address, builds the dispatch chain, and publishes the
// server in the registry if one was configured. Bind port 0 to get an
// ephemeral port; Addr reports the bound address.
func (s *Server) Listen(network, address string) error {
	ln, err := net.Listen(network, address)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	// Built once, not per frame.
	s.dispatch = middleware.Chain(s.middlewares...)(s.route)
	s.mu.Unlock()

	s.log.Info().Stringer("addr", ln.Addr()).Msg("listening")

	if s.registry != nil {
		addr := s.advertiseAddr
		if addr == "" {
			addr = ln.Addr().String()
		}
		s.advertiseAddr = addr
		err := s.registry.Register(context.Background(), registry.ServerInstance{Addr: addr}, registrationTTL)
		if err != nil {
			ln.Close()
			return fmt.Errorf("server: registry registration: %w", err)
		}
		s.log.Info().Str("advertise", addr).Msg("registered in registry")
	}
	return nil
}

// Serve runs the accept loop until Shutdown closes the listener or accepting
// fails. One goroutine per connection.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server: Serve called before Listen")
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			// Shutdown closes the listener; that Accept error is expected.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}

		c := newClientConn(conn, s)
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(c)
		}()
	}
}

// ListenAndServe combines Listen and Serve.
func (s *Server) ListenAndServe(network, address string) error {
	if err := s.Listen(network, address); err != nil {
		return err
	}
	return s.Serve()
}

// Addr returns the bound listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown deregisters from the registry, stops accepting, closes live
// connections, and waits up to timeout for their read loops to finish.
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := s.registry.Deregister(ctx, s.advertiseAddr); err != nil {
			s.log.Warn().Err(err).Msg("registry deregistration failed")
		}
		cancel()
	}

	// Flag first: Serve must recognize the listener close as intentional.
	s.shutdown.Store(true)

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("shutdown complete")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("server: timeout waiting for connections to close")
	}
}

// handleConn is the per-connection read loop: decode one frame, run it
// through the dispatch chain, repeat. Decode errors and handler errors are
// both fatal to this connection only.
func (s *Server) handleConn(c *ClientConn) {
	defer s.teardown(c)
	c.log.Debug().Msg("connection accepted")

	for {
		f, err := protocol.Decode(c.conn)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) && !c.closed.Load() {
				c.log.Warn().Err(err).Msg("decode failed, closing connection")
			}
			return
		}
		if err := s.dispatch(context.Background(), c, f); err != nil {
			c.log.Warn().Err(err).Str("tag", f.Handler).Msg("handler failed, closing connection")
			return
		}
	}
}

// teardown runs when a read loop exits for any reason. It releases the
// connection's name; room membership is left stale on purpose and pruned at
// the next broadcast.
func (s *Server) teardown(c *ClientConn) {
	c.Close()
	s.mu.Lock()
	delete(s.conns, c)
	if c.identified && s.clients[c.name] == c {
		delete(s.clients, c.name)
	}
	s.mu.Unlock()
	c.log.Debug().Msg("connection closed")
}

// route is the innermost Dispatch: look up the handler for the frame's tag
// and run it under the server mutex. Unknown tags get not_found and the
// connection stays open.
func (s *Server) route(ctx context.Context, from middleware.Peer, f *protocol.Frame) error {
	c := from.(*ClientConn)

	h, ok := s.handlers[f.Handler]
	if !ok {
		c.log.Warn().Str("tag", f.Handler).Msg("handler not found")
		return c.Send(message.NotFound())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return h(c, f)
}

func (s *Server) handleEcho(c *ClientConn, f *protocol.Frame) error {
	return c.Send(f)
}

// handleTerminate releases the caller's name before the stream closes, so a
// subsequent identify for the same name cannot race the teardown.
func (s *Server) handleTerminate(c *ClientConn, f *protocol.Frame) error {
	if c.identified && s.clients[c.name] == c {
		delete(s.clients, c.name)
	}
	return c.Close()
}

func (s *Server) handleIdentify(c *ClientConn, f *protocol.Frame) error {
	name := string(f.Payload)

	// The colon delimits room from sender in broadcast headers; a name
	// containing one would corrupt that header on the far side. Such names
	// are refused the same way a taken name is.
	if name == "" || strings.Contains(name, message.HeaderDelim) {
		return c.Send(message.IDTaken())
	}
	if _, taken := s.clients[name]; taken {
		return c.Send(message.IDTaken())
	}

	s.clients[name] = c
	c.name = name
	c.identified = true
	c.log.Info().Str("name", name).Msg("client identified")
	return c.Send(message.Identified())
}

// room returns the named room, creating it on first use. Creation order is
// recorded for list_rooms.
func (s *Server) room(name string) *Room {
	r, ok := s.rooms[name]
	if !ok {
		r = newRoom(name)
		s.rooms[name] = r
		s.roomOrder = append(s.roomOrder, name)
		s.log.Debug().Str("room", name).Msg("room created")
	}
	return r
}

func (s *Server) handleCreateRoom(c *ClientConn, f *protocol.Frame) error {
	s.room(string(f.Payload))
	return c.Send(message.RoomCreated())
}

func (s *Server) handleListRooms(c *ClientConn, f *protocol.Frame) error {
	return c.Send(message.RoomList(s.roomOrder))
}

// handleJoinRoom creates the room if it does not exist yet, consistent with
// create_room being idempotent.
func (s *Server) handleJoinRoom(c *ClientConn, f *protocol.Frame) error {
	s.room(string(f.Payload)).join(c)
	return c.Send(message.RoomJoined())
}

func (s *Server) handleLeaveRoom(c *ClientConn, f *protocol.Frame) error {
	if r, ok := s.rooms[string(f.Payload)]; ok {
		r.leave(c.name)
	}
	return c.Send(message.RoomLeft())
}

func (s *Server) handleRoomMembers(c *ClientConn, f *protocol.Frame) error {
	name := string(f.Payload)
	r, ok := s.rooms[name]
	if !ok {
		return c.Send(message.NoRoom(name))
	}
	return c.Send(message.MemberList(r.Clients()))
}

// handleMsgRoom fans the payload out to every current member before acking
// the sender, so members observe the broadcast no later than the sender
// observes room_msgd.
func (s *Server) handleMsgRoom(c *ClientConn, f *protocol.Frame) error {
	name := string(f.Header)
	r, ok := s.rooms[name]
	if !ok {
		return c.Send(message.NoRoom(name))
	}
	r.broadcast(c.name, f.Payload)
	return c.Send(message.RoomMsgd())
}

// handleMsgClient relays the payload bytes verbatim; the server never
// re-encodes them.
func (s *Server) handleMsgClient(c *ClientConn, f *protocol.Frame) error {
	name := string(f.Header)
	target, ok := s.clients[name]
	if !ok {
		return c.Send(message.NoClient(name))
	}
	if err := target.Send(message.ClientMsg(c.name, f.Payload)); err != nil {
		// The target's stream died between teardown and now; delivery is
		// best-effort, the sender still gets its ack.
		target.log.Debug().Err(err).Msg("relay to stale client dropped")
	}
	return c.Send(message.ClientMsgd())
}
