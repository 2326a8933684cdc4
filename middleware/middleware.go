// Package middleware provides a composable dispatch chain for server-side
// frame processing. A Middleware wraps the Dispatch that routes one inbound
// frame, forming the onion model: Chain(A, B)(d) runs A before B before d,
// and unwinds in the opposite order.
package middleware

import (
	"context"
	"net"

	"mini-irc/protocol"
)

// Peer is the middleware-visible view of the connection a frame arrived on.
// Name is empty until the peer identifies.
type Peer interface {
	ID() string
	Name() string
	RemoteAddr() net.Addr
}

// Dispatch routes one inbound frame. Returning an error is fatal to the
// peer's connection only, never to the server.
type Dispatch func(ctx context.Context, from Peer, frame *protocol.Frame) error

// Middleware wraps a Dispatch with cross-cutting behavior.
type Middleware func(next Dispatch) Dispatch

// Chain composes middlewares into a single Middleware. Wrapping happens in
// reverse so that the first middleware in the list runs first.
func Chain(middlewares ...Middleware) Middleware {
	return func(next Dispatch) Dispatch {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
