//go:build !linux && !windows

package spawn

import "syscall"

// sysProcAttr makes the child a session leader with the pty slave as
// its controlling terminal.  There is no parent-death signal outside
// Linux; orphaned shells get SIGHUP when the master closes instead.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
	}
}

// DetachedAttr is for children without a terminal: own session only.
func DetachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
