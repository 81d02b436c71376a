// Package spawn starts children attached to a fresh pseudo-terminal.
//
// The parent keeps the pty master, switched to non-blocking mode; the
// child gets the slave as its controlling terminal and standard streams,
// and is arranged to receive SIGTERM if ptyd dies (Linux).  Every child
// is handed to a reaper.Registry so its exit status is collected without
// anyone blocking on it.
package spawn

import (
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"

	ncerr "ptyd/internal/errors"
	"ptyd/internal/reaper"
)

// DefaultShell is the program run when a Spec leaves Path empty.
const DefaultShell = "/bin/sh"

// Spec describes the child to start.
type Spec struct {
	Path string   // program; DefaultShell when empty
	Args []string // argv[1:]
	Env  []string // full environment; os.Environ()+TERM when nil
	Dir  string   // working directory; inherited when empty
	Rows uint16   // initial terminal size, ignored when zero
	Cols uint16
}

// LoginShell returns the Spec of the default interactive shell.
func LoginShell() Spec {
	return Spec{Path: DefaultShell, Args: []string{"--login"}}
}

// Child is a running process attached to a pty.
type Child struct {
	Pid int
	PTY *PTY

	path string
	reg  *reaper.Registry
}

// Path returns the resolved program path.
func (c *Child) Path() string { return c.path }

// Kill forcibly terminates the child.  It is idempotent: killing a
// child that already exited (or was already reaped) returns nil.
func (c *Child) Kill() error {
	if c == nil || c.Pid <= 0 {
		return nil
	}
	return c.reg.Kill(c.Pid)
}

// Start allocates a pty, starts spec on its slave side and registers
// the child with reg.  On failure the returned error is a
// *errors.SpawnError naming the step that failed.
func Start(spec Spec, reg *reaper.Registry) (*Child, error) {
	path := spec.Path
	if path == "" {
		path = DefaultShell
	}

	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, ncerr.Spawn("exec", path, err)
	}

	cmd := exec.Command(resolved, spec.Args...)
	cmd.Env = spec.Env
	if cmd.Env == nil {
		cmd.Env = append(os.Environ(), "TERM=xterm")
	}
	cmd.Dir = spec.Dir

	var ws *pty.Winsize
	if spec.Rows > 0 && spec.Cols > 0 {
		ws = &pty.Winsize{Rows: spec.Rows, Cols: spec.Cols}
	}

	master, err := pty.StartWithAttrs(cmd, ws, sysProcAttr())
	if err != nil {
		return nil, ncerr.Spawn(classifyStartError(err), resolved, err)
	}

	pid := cmd.Process.Pid
	// The registry owns collection from here on; os.Process must not
	// wait on the pid as well.
	cmd.Process.Release() //nolint:errcheck

	if err := reg.Register(pid); err != nil {
		master.Close()
		unixKill(pid)
		return nil, ncerr.Spawn("fork", resolved, err)
	}

	p, err := newPTY(master)
	if err != nil {
		master.Close()
		reg.Kill(pid) //nolint:errcheck
		return nil, ncerr.Spawn("openpty", resolved, err)
	}

	return &Child{Pid: pid, PTY: p, path: resolved, reg: reg}, nil
}

// classifyStartError maps an error from pty.StartWithAttrs to the
// failing step: allocating the pty, forking, or executing the program.
func classifyStartError(err error) string {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		if pe.Op == "fork/exec" {
			switch {
			case errors.Is(pe.Err, syscall.ENOENT),
				errors.Is(pe.Err, syscall.EACCES),
				errors.Is(pe.Err, syscall.ENOEXEC),
				errors.Is(pe.Err, syscall.ENOTDIR):
				return "exec"
			}
			return "fork"
		}
		return "openpty"
	}
	return "fork"
}
