// Package transport carries ptyd traffic over the network.  Dialers
// open the raw byte streams used by the relay client; MessageConn frames
// the admin text protocol on a websocket.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound byte-stream connections.  Implementations are a
// plain TCP dialer and a websocket dialer that tunnels the stream
// through ptyd's /tunnel endpoint.
type Dialer interface {
	// Dial establishes a connection to address.  For TCP that is
	// host:port; for websockets it is a ws:// or wss:// URL and
	// network is ignored.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer.
	// Stateless dialers return nil.
	Close() error
}
