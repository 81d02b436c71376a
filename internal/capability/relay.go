package capability

import (
	"context"
	"time"

	"ptyd/internal/metrics"
	"ptyd/internal/session"
	"ptyd/util"
)

// Relay copies data bidirectionally between the connection and the
// session's endpoints.  It serves both the nc client (stdin/stdout) and
// the tunnel (child pipes).
type Relay struct {
	Metrics *metrics.Collector
}

// Handle shuttles bytes until one side closes or ctx is cancelled.
func (r *Relay) Handle(ctx context.Context, sess *session.Session) error {
	start := time.Now()
	r.Metrics.ConnectionOpened()
	defer r.Metrics.ConnectionClosed()

	err := util.BidirectionalCopy(ctx, sess.Conn, sess.Stdin, sess.Stdout)
	sess.Logger.Verbose("relay %s closed after %v", sess.Conn.RemoteAddr(), time.Since(start).Truncate(time.Millisecond))
	if err != nil {
		r.Metrics.RecordError(err.Error())
	}
	return err
}
