package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mini-irc/protocol"
)

// Logging records every dispatched frame: peer, tag and handling duration.
// Handler failures are logged at warn level before they propagate and close
// the offending connection.
func Logging(log zerolog.Logger) Middleware {
	return func(next Dispatch) Dispatch {
		return func(ctx context.Context, from Peer, frame *protocol.Frame) error {
			start := time.Now()
			err := next(ctx, from, frame)

			evt := log.Debug()
			if err != nil {
				evt = log.Warn().Err(err)
			}
			evt.Str("conn", from.ID()).
				Str("name", from.Name()).
				Str("tag", frame.Handler).
				Dur("duration", time.Since(start)).
				Msg("frame dispatched")
			return err
		}
	}
}
