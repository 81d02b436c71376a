package util

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
)

// DefaultBufSize is the standard buffer size for stream I/O (32 KiB).
const DefaultBufSize = 32 * 1024

// halfCloser is implemented by connections that can shut down their
// write side independently (TCP, unix sockets).
type halfCloser interface {
	CloseWrite() error
}

// BidirectionalCopy shuffles data between a connection and an arbitrary
// reader/writer pair (stdin/stdout, or the pipes of a tunnel child)
// until one side reaches EOF or the context is cancelled.
func BidirectionalCopy(ctx context.Context, conn net.Conn, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	// connection → writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := GetBuf()
		defer PutBuf(buf)
		_, err := io.CopyBuffer(w, conn, *buf)
		errCh <- err
		cancel()
	}()

	// reader → connection
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := GetBuf()
		defer PutBuf(buf)
		_, err := io.CopyBuffer(conn, r, *buf)
		errCh <- err
		// With a half-closable connection keep the read side open so
		// the remote can finish sending.  Anything else (websocket
		// streams) is torn down once the reader is exhausted.
		if hc, ok := conn.(halfCloser); ok && err == nil {
			hc.CloseWrite() //nolint:errcheck
			return
		}
		cancel()
	}()

	<-ctx.Done()
	conn.Close() // unblock any pending reads/writes
	if c, ok := r.(io.Closer); ok {
		c.Close() //nolint:errcheck
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil && !isHarmless(err) {
			return err
		}
	}
	return nil
}

// isHarmless returns true for errors that are expected during shutdown.
func isHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
