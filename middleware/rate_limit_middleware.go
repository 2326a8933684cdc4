package middleware

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"mini-irc/protocol"
)

// ErrRateLimited reports a frame rejected by RateLimit.
var ErrRateLimited = errors.New("middleware: rate limit exceeded")

// RateLimit enforces a token-bucket limit on inbound frames across the whole
// dispatch chain. Exceeding the limit is fatal to the offending connection:
// silently dropping a frame would wedge the peer's reply correlation, so the
// connection is closed instead.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next Dispatch) Dispatch {
		return func(ctx context.Context, from Peer, frame *protocol.Frame) error {
			if !limiter.Allow() {
				return fmt.Errorf("%w: dropping %q from %s", ErrRateLimited, frame.Handler, from.ID())
			}
			return next(ctx, from, frame)
		}
	}
}
