package admin

import (
	"fmt"
	"os"
	"path/filepath"

	ncerr "ptyd/internal/errors"
)

// MsgLocalOnly is reported to remote connections when the console is
// restricted to local ones.
const MsgLocalOnly = "CONSOLE: only available to local admin connection\n"

// Policy decides whether a connection may open a console.
type Policy struct {
	// NoConsoleFile disables the console for everyone while the file
	// exists.  Empty means no such switch.
	NoConsoleFile string

	// LocalOnly restricts the console to connections from loopback or
	// private addresses.
	LocalOnly bool
}

// Check returns nil when the console may be opened.  Otherwise it
// returns the notice to send to the connection and an error wrapping
// errors.ErrConsoleDisabled.
func (p Policy) Check(local bool) (string, error) {
	if p.NoConsoleFile != "" {
		if _, err := os.Stat(p.NoConsoleFile); err == nil {
			return p.disabledNotice(), fmt.Errorf("%s exists: %w", p.NoConsoleFile, ncerr.ErrConsoleDisabled)
		}
	}
	if p.LocalOnly && !local {
		return MsgLocalOnly, fmt.Errorf("remote connection: %w", ncerr.ErrConsoleDisabled)
	}
	return "", nil
}

func (p Policy) disabledNotice() string {
	name := filepath.Join(filepath.Base(filepath.Dir(p.NoConsoleFile)), filepath.Base(p.NoConsoleFile))
	return "CONSOLE: disabled because " + name + " file exists\n"
}
