package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// Admin protocol prefixes.
const (
	PrefixSet = "SET "
	PrefixAdm = "ADM "
)

// DefaultWriteTimeout bounds a single outbound message so a stalled
// peer cannot wedge the session loop.
const DefaultWriteTimeout = 10 * time.Second

// maxMessageSize limits inbound admin frames; console_w2c payloads are
// a few hundred bytes at most.
const maxMessageSize = 64 * 1024

// EncodeMessage formats an outbound admin message.  The payload is
// percent-encoded so it survives as a single text frame.
func EncodeMessage(tag, payload string) string {
	if payload == "" {
		return PrefixAdm + tag
	}
	return PrefixAdm + tag + "=" + url.PathEscape(payload)
}

// DecodeMessage splits an "ADM tag[=payload]" frame.
func DecodeMessage(msg string) (tag, payload string, err error) {
	rest, ok := strings.CutPrefix(msg, PrefixAdm)
	if !ok {
		return "", "", fmt.Errorf("not an admin message: %.32q", msg)
	}
	tag, enc, _ := strings.Cut(rest, "=")
	payload, err = url.PathUnescape(enc)
	if err != nil {
		return "", "", fmt.Errorf("decode %s: %w", tag, err)
	}
	return tag, payload, nil
}

// MessageConn is one admin connection.  Emit is safe for concurrent
// use; ReadCommand must be called from a single goroutine.
type MessageConn struct {
	ws           *websocket.Conn
	ctx          context.Context
	writeTimeout time.Duration
	live         atomic.Bool
}

// NewMessageConn wraps an accepted or dialed websocket.  The connection
// stops being live when ctx ends, when a read or write fails, or on
// Close.
func NewMessageConn(ctx context.Context, ws *websocket.Conn) *MessageConn {
	ws.SetReadLimit(maxMessageSize)
	c := &MessageConn{ws: ws, ctx: ctx, writeTimeout: DefaultWriteTimeout}
	c.live.Store(true)
	return c
}

// AcceptMessageConn upgrades an HTTP request on the admin endpoint.
func AcceptMessageConn(w http.ResponseWriter, r *http.Request, opts *websocket.AcceptOptions) (*MessageConn, error) {
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		return nil, err
	}
	return NewMessageConn(r.Context(), ws), nil
}

// DialMessageConn connects to a remote admin endpoint.
func DialMessageConn(ctx context.Context, rawURL string) (*MessageConn, error) {
	ws, _, err := websocket.Dial(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	return NewMessageConn(ctx, ws), nil
}

// Emit sends one "ADM" message.
func (c *MessageConn) Emit(tag, payload string) error {
	return c.WriteText(EncodeMessage(tag, payload))
}

// Send writes a "SET" command.  Used by the attach client.
func (c *MessageConn) Send(cmd string) error {
	return c.WriteText(PrefixSet + cmd)
}

// WriteText writes one raw text frame.
func (c *MessageConn) WriteText(msg string) error {
	if !c.live.Load() {
		return net.ErrClosed
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		c.live.Store(false)
		return err
	}
	return nil
}

// ReadText blocks for the next text frame.  Binary frames are skipped.
func (c *MessageConn) ReadText(ctx context.Context) (string, error) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			c.live.Store(false)
			return "", err
		}
		if typ == websocket.MessageText {
			return string(data), nil
		}
	}
}

// ReadCommand returns the next inbound command with its "SET " prefix
// removed.  Frames that are not commands come back with ok false.
func (c *MessageConn) ReadCommand(ctx context.Context) (cmd string, ok bool, err error) {
	msg, err := c.ReadText(ctx)
	if err != nil {
		return "", false, err
	}
	cmd, ok = strings.CutPrefix(msg, PrefixSet)
	return cmd, ok, nil
}

// IsLive reports whether the peer is still reachable.
func (c *MessageConn) IsLive() bool {
	return c.live.Load() && c.ctx.Err() == nil
}

// Close performs a normal websocket close.
func (c *MessageConn) Close() error {
	c.live.Store(false)
	err := c.ws.Close(websocket.StatusNormalClosure, "")
	if isNormalClose(err) {
		return nil
	}
	return err
}

func isNormalClose(err error) bool {
	if err == nil || errors.Is(err, net.ErrClosed) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

// IsClosed reports whether err marks the orderly end of a websocket.
func IsClosed(err error) bool {
	return isNormalClose(err) || errors.Is(err, context.Canceled)
}

// ── byte streams ─────────────────────────────────────────────────────

// StreamConn exposes an accepted or dialed websocket as a net.Conn
// carrying binary frames.  ctx bounds the lifetime of the stream.
func StreamConn(ctx context.Context, ws *websocket.Conn) net.Conn {
	return websocket.NetConn(ctx, ws, websocket.MessageBinary)
}

// WebSocketDialer opens byte streams through a ptyd /tunnel endpoint.
type WebSocketDialer struct {
	Timeout time.Duration
}

// Dial connects to the websocket URL in address.
func (d *WebSocketDialer) Dial(ctx context.Context, _, address string) (net.Conn, error) {
	dialCtx := ctx
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	ws, _, err := websocket.Dial(dialCtx, address, nil)
	if err != nil {
		return nil, &net.OpError{Op: "dial", Net: "ws", Err: err}
	}
	ws.SetReadLimit(-1)
	return StreamConn(ctx, ws), nil
}

// Close is a no-op.
func (d *WebSocketDialer) Close() error { return nil }

// IsWebSocketURL reports whether address names a websocket endpoint.
func IsWebSocketURL(address string) bool {
	return strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://")
}
