// Package session binds a byte-stream connection to the local endpoints
// it is relayed to.
//
// The relay client pairs a dialed connection with stdin/stdout; the
// tunnel pairs a /tunnel websocket stream with the pipes of its child.
// Capabilities only see the Session, never where its ends come from.
package session

import (
	"io"
	"net"

	"ptyd/util"
)

// Session encapsulates the runtime context for a single relayed
// connection.
type Session struct {
	Conn   net.Conn
	Stdin  io.Reader // bytes to send over Conn
	Stdout io.Writer // bytes received from Conn
	Logger *util.Logger
}

// New creates a Session bound to the given connection and I/O pair.
func New(conn net.Conn, stdin io.Reader, stdout io.Writer, logger *util.Logger) *Session {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Session{
		Conn:   conn,
		Stdin:  stdin,
		Stdout: stdout,
		Logger: logger,
	}
}
