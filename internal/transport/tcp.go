package transport

import (
	"context"
	"net"
	"time"
)

// TCPDialer establishes plain TCP connections.
type TCPDialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration // 0 uses the net package default
}

// Dial connects to address over TCP.
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	if network == "" {
		network = "tcp"
	}
	dialer := net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	return dialer.DialContext(ctx, network, address)
}

// Close is a no-op for stateless TCP dialers.
func (d *TCPDialer) Close() error { return nil }

// ForAddress picks the dialer for a relay target: a websocket URL goes
// through WebSocketDialer, anything else is host:port over TCP.
func ForAddress(address string, timeout time.Duration) Dialer {
	if IsWebSocketURL(address) {
		return &WebSocketDialer{Timeout: timeout}
	}
	return &TCPDialer{Timeout: timeout}
}
