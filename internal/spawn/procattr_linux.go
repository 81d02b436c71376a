package spawn

import "syscall"

// sysProcAttr makes the child a session leader with the pty slave as
// its controlling terminal.  Pdeathsig is the Linux-only guarantee that
// the shell receives SIGTERM if ptyd dies without cleaning up.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setsid:    true,
		Setctty:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}

// DetachedAttr is for children without a terminal (the tunnel client,
// an external relay listener): own session, SIGTERM on parent death.
func DetachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setsid:    true,
		Pdeathsig: syscall.SIGTERM,
	}
}
