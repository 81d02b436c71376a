package spawn

import (
	"io"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	ncerr "ptyd/internal/errors"
)

// PTY is the parent-side handle of a pseudo-terminal in non-blocking
// mode.  All access goes through the file's RawConn so the Go runtime
// never flips the descriptor back to blocking (as os.File.Fd would).
type PTY struct {
	f    *os.File
	rc   syscall.RawConn
	once sync.Once
	cerr error
}

func newPTY(f *os.File) (*PTY, error) {
	rc, err := f.SyscallConn()
	if err != nil {
		return nil, err
	}
	var serr error
	if err := rc.Control(func(fd uintptr) {
		serr = unix.SetNonblock(int(fd), true)
	}); err != nil {
		return nil, err
	}
	if serr != nil {
		return nil, serr
	}
	return &PTY{f: f, rc: rc}, nil
}

// Name returns the device name of the master side.
func (p *PTY) Name() string { return p.f.Name() }

// ReadNonblock makes a single read attempt.  It returns
// errors.ErrWouldBlock when no output is pending and io.EOF once the
// slave side is gone (Linux reports that as EIO).
func (p *PTY) ReadNonblock(b []byte) (int, error) {
	var (
		n    int
		rerr error
	)
	if err := p.rc.Read(func(fd uintptr) bool {
		n, rerr = unix.Read(int(fd), b)
		return true
	}); err != nil {
		return 0, ncerr.WrapIO("read", err)
	}

	switch {
	case rerr == unix.EAGAIN || rerr == unix.EINTR:
		return 0, ncerr.ErrWouldBlock
	case rerr == unix.EIO:
		return 0, io.EOF
	case rerr != nil:
		return 0, ncerr.WrapIO("read", rerr)
	case n == 0:
		return 0, io.EOF
	}
	return n, nil
}

// Read blocks until output is available.  It parks on the runtime
// poller rather than a thread and returns io.EOF once the child side is
// gone.
func (p *PTY) Read(b []byte) (int, error) {
	var (
		n    int
		rerr error
	)
	if err := p.rc.Read(func(fd uintptr) bool {
		for {
			n, rerr = unix.Read(int(fd), b)
			if rerr != unix.EINTR {
				break
			}
		}
		return rerr != unix.EAGAIN
	}); err != nil {
		return 0, ncerr.WrapIO("read", err)
	}
	switch {
	case rerr == unix.EIO:
		return 0, io.EOF
	case rerr != nil:
		return 0, ncerr.WrapIO("read", rerr)
	case n == 0:
		return 0, io.EOF
	}
	return n, nil
}

// WriteNonblock makes a single write attempt and reports how much of b
// was accepted.  A full input queue yields a short count together with
// errors.ErrWouldBlock; the caller decides whether to drop the rest.
func (p *PTY) WriteNonblock(b []byte) (int, error) {
	var (
		n    int
		werr error
	)
	if err := p.rc.Write(func(fd uintptr) bool {
		n, werr = unix.Write(int(fd), b)
		return true
	}); err != nil {
		return 0, ncerr.WrapIO("write", err)
	}
	if n < 0 {
		n = 0
	}
	switch {
	case werr == unix.EAGAIN || werr == unix.EINTR:
		return n, ncerr.ErrWouldBlock
	case werr != nil:
		return n, ncerr.WrapIO("write", werr)
	}
	return n, nil
}

// Write writes all of b, parking on the runtime poller whenever the
// child's input queue is full.
func (p *PTY) Write(b []byte) (int, error) {
	total := 0
	var werr error
	if err := p.rc.Write(func(fd uintptr) bool {
		for total < len(b) {
			n, err := unix.Write(int(fd), b[total:])
			if err == unix.EAGAIN {
				return false
			}
			if err == unix.EINTR {
				continue
			}
			if err != nil {
				werr = err
				return true
			}
			total += n
		}
		return true
	}); err != nil {
		return total, ncerr.WrapIO("write", err)
	}
	if werr != nil {
		return total, ncerr.WrapIO("write", werr)
	}
	return total, nil
}

// Resize applies new terminal dimensions (TIOCSWINSZ).
func (p *PTY) Resize(rows, cols uint16) error {
	ws := &unix.Winsize{Row: rows, Col: cols}
	var ierr error
	if err := p.rc.Control(func(fd uintptr) {
		ierr = unix.IoctlSetWinsize(int(fd), unix.TIOCSWINSZ, ws)
	}); err != nil {
		return ncerr.WrapIO("resize", err)
	}
	if ierr != nil {
		return ncerr.WrapIO("resize", ierr)
	}
	return nil
}

// Size reports the current terminal dimensions.
func (p *PTY) Size() (rows, cols uint16, err error) {
	var (
		ws   *unix.Winsize
		ierr error
	)
	if err := p.rc.Control(func(fd uintptr) {
		ws, ierr = unix.IoctlGetWinsize(int(fd), unix.TIOCGWINSZ)
	}); err != nil {
		return 0, 0, ncerr.WrapIO("resize", err)
	}
	if ierr != nil {
		return 0, 0, ncerr.WrapIO("resize", ierr)
	}
	return ws.Row, ws.Col, nil
}

// Close releases the master.  Safe to call more than once.
func (p *PTY) Close() error {
	p.once.Do(func() { p.cerr = p.f.Close() })
	return p.cerr
}

func unixKill(pid int) {
	unix.Kill(pid, unix.SIGKILL) //nolint:errcheck
}
