// Package capability defines what happens over an established relay
// connection.  A Capability works on a session.Session rather than a
// raw net.Conn, which keeps it independent of whether the far end is a
// TCP socket or a websocket stream.
package capability

import (
	"context"

	"ptyd/internal/session"
)

// Capability handles a single connection.
type Capability interface {
	// Handle runs the capability against the given session.  It
	// blocks until the connection is done or ctx is cancelled.
	Handle(ctx context.Context, sess *session.Session) error
}
