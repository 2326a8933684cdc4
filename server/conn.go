package server

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"

	"mini-irc/protocol"
)

// ClientConn is the server-side endpoint for one TCP connection. The accept
// loop creates it and owns its lifetime; rooms keep borrowed references and
// must tolerate writes after the stream is gone.
//
// name and identified are mutated only by handlers running on the
// connection's own read-loop goroutine, so they need no locking of their own.
type ClientConn struct {
	id     string
	conn   net.Conn
	server *Server
	log    zerolog.Logger

	writeMu sync.Mutex // replies and room fan-out share the stream
	closed  atomic.Bool

	name       string
	identified bool
}

func newClientConn(conn net.Conn, s *Server) *ClientConn {
	id := shortuuid.New()
	return &ClientConn{
		id:     id,
		conn:   conn,
		server: s,
		log:    s.log.With().Str("conn", id).Stringer("peer", conn.RemoteAddr()).Logger(),
	}
}

// ID returns the connection's log correlation id.
func (c *ClientConn) ID() string { return c.id }

// Name returns the identity bound by identify, or "" before identification.
func (c *ClientConn) Name() string { return c.name }

// Identified reports whether the connection has passed the identification gate.
func (c *ClientConn) Identified() bool { return c.identified }

func (c *ClientConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Send encodes f and writes it to the stream. Fire-and-forget: no
// application-level acknowledgment is implied. A write failure marks the
// connection dead so broadcast can prune it.
func (c *ClientConn) Send(f *protocol.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return net.ErrClosed
	}
	if err := protocol.Encode(c.conn, f); err != nil {
		c.closed.Store(true)
		return err
	}
	return nil
}

// Close shuts the underlying stream. The read loop observes the close and
// runs connection teardown; Close itself is idempotent.
func (c *ClientConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}
