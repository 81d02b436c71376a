package core

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"ptyd/internal/capability"
	ncerr "ptyd/internal/errors"
	"ptyd/internal/retry"
	"ptyd/internal/session"
	"ptyd/internal/transport"
	"ptyd/util"
)

// ConnectMode dials a relay target and shuttles stdin/stdout over the
// connection.  It is what "ptyd nc" runs, usually as the tunnel child
// with its standard streams on the tunnel pipes.
type ConnectMode struct {
	Dialer     transport.Dialer
	Capability capability.Capability
	Network    string
	Address    string
	Logger     *util.Logger

	// Backoff retries refused dials; the relay listener may still be
	// starting when the first tunnel arrives.  Nil dials once.
	Backoff *retry.Backoff

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	// Override in tests for deterministic I/O.
	Stdin  io.Reader
	Stdout io.Writer
}

func (m *ConnectMode) stdin() io.Reader {
	if m.Stdin != nil {
		return m.Stdin
	}
	return os.Stdin
}

func (m *ConnectMode) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

// Run dials the target, creates a session, and hands it to the
// capability.  The transport is closed when Run returns.
func (m *ConnectMode) Run(ctx context.Context) error {
	defer m.Dialer.Close()

	m.Logger.Verbose("connecting to %s (%s)", m.Address, m.Network)

	conn, err := m.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", m.Address, err)
	}
	defer conn.Close()

	m.Logger.Verbose("connected to %s", conn.RemoteAddr())

	sess := session.New(conn, m.stdin(), m.stdout(), m.Logger)
	return m.Capability.Handle(ctx, sess)
}

func (m *ConnectMode) dial(ctx context.Context) (net.Conn, error) {
	once := func() (net.Conn, error) {
		c, err := m.Dialer.Dial(ctx, m.Network, m.Address)
		if err != nil {
			return nil, ncerr.Wrap("dial", m.Address, err)
		}
		return c, nil
	}
	if m.Backoff == nil {
		return once()
	}

	b := *m.Backoff
	if b.Retryable == nil {
		b.Retryable = ncerr.IsRetryable
	}
	if b.OnRetry == nil {
		b.OnRetry = func(attempt int, err error, wait time.Duration) {
			m.Logger.Verbose("attempt %d: %v (retrying in %v)", attempt, err, wait.Truncate(time.Millisecond))
		}
	}

	var conn net.Conn
	err := b.Do(ctx, func(int) error {
		c, err := once()
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	return conn, err
}
