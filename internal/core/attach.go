package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"ptyd/internal/admin"
	"ptyd/internal/console"
	"ptyd/internal/transport"
	"ptyd/util"
)

// DetachKey ends an attach session locally without closing the remote
// console (Ctrl-]).
const DetachKey = 0x1d

// errDetached ends Run when the user presses DetachKey.
var errDetached = errors.New("detached")

// oobKeys are single keystrokes that bypass the normal input path so
// they still reach a shell that is busy writing.
var oobKeys = map[byte]bool{
	0x03: true, // ^C
	0x1a: true, // ^Z
	0x1c: true, // ^\
}

// AttachMode connects a local terminal to the console of a remote ptyd.
type AttachMode struct {
	URL    string
	Logger *util.Logger

	// Stdin/Stdout default to the process's own.  When Stdin is a
	// terminal it is switched to raw mode for the duration of Run.
	Stdin  io.Reader
	Stdout io.Writer

	// Size reports the local terminal size.  Defaults to the size of
	// stdout when it is a terminal.
	Size func() (rows, cols int, err error)
}

func (m *AttachMode) stdin() io.Reader {
	if m.Stdin != nil {
		return m.Stdin
	}
	return os.Stdin
}

func (m *AttachMode) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

func (m *AttachMode) size() (int, int, error) {
	if m.Size != nil {
		return m.Size()
	}
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	return h, w, err
}

// Run opens the remote console and bridges it to the local terminal
// until the remote shell exits, the user detaches, or ctx ends.
func (m *AttachMode) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mc, err := transport.DialMessageConn(ctx, m.URL)
	if err != nil {
		return err
	}
	defer mc.Close() //nolint:errcheck

	if f, ok := m.stdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		old, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer term.Restore(int(f.Fd()), old) //nolint:errcheck
		m.Logger.Verbose("attached to %s, ^] to detach", m.URL)
	}

	if err := mc.Send(admin.Command{Kind: admin.CmdOpen}.Format()); err != nil {
		return err
	}
	m.sendSize(mc)

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-winch:
				m.sendSize(mc)
			}
		}
	}()

	inErr := make(chan error, 1)
	go func() { inErr <- m.pumpInput(mc) }()

	outErr := make(chan error, 1)
	go func() { outErr <- m.pumpOutput(ctx, mc) }()

	select {
	case err := <-outErr:
		return err
	case err := <-inErr:
		if errors.Is(err, errDetached) {
			m.Logger.Verbose("detached")
			return nil
		}
		if err == nil {
			// Local EOF: let the remote shell finish what it was sent.
			return <-outErr
		}
		return err
	case <-ctx.Done():
		return nil
	}
}

func (m *AttachMode) sendSize(mc *transport.MessageConn) {
	rows, cols, err := m.size()
	if err != nil || rows <= 0 || cols <= 0 {
		return
	}
	cmd := admin.Command{Kind: admin.CmdResize, Rows: uint16(rows), Cols: uint16(cols)}
	if err := mc.Send(cmd.Format()); err != nil {
		m.Logger.Debug("resize: %v", err)
	}
}

// pumpInput forwards local keystrokes.  Lone interrupt keys travel as
// out-of-band keys; everything else as console input.
func (m *AttachMode) pumpInput(mc *transport.MessageConn) error {
	buf := make([]byte, console.DefaultReadChunk)
	in := m.stdin()
	for {
		n, err := in.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if i := bytes.IndexByte(chunk, DetachKey); i >= 0 {
				if i > 0 {
					mc.Send(admin.Command{Kind: admin.CmdWrite, Data: chunk[:i]}.Format()) //nolint:errcheck
				}
				return errDetached
			}
			var cmd admin.Command
			if n == 1 && oobKeys[chunk[0]] {
				cmd = admin.Command{Kind: admin.CmdKey, Key: chunk[0]}
			} else {
				cmd = admin.Command{Kind: admin.CmdWrite, Data: chunk}
			}
			if werr := mc.Send(cmd.Format()); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// pumpOutput writes console output locally and returns once the remote
// session reports it is done.
func (m *AttachMode) pumpOutput(ctx context.Context, mc *transport.MessageConn) error {
	out := m.stdout()
	for {
		msg, err := mc.ReadText(ctx)
		if err != nil {
			if transport.IsClosed(err) {
				return nil
			}
			return err
		}
		tag, payload, err := transport.DecodeMessage(msg)
		if err != nil {
			m.Logger.Debug("%v", err)
			continue
		}
		switch tag {
		case console.TagOutput:
			if _, err := io.WriteString(out, payload); err != nil {
				return err
			}
		case console.TagDone:
			return nil
		default:
			m.Logger.Debug("ignored %s", tag)
		}
	}
}
