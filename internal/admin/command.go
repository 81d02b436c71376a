// Package admin interprets the console subset of the admin command
// protocol and applies the console policy of a connection.
package admin

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	ncerr "ptyd/internal/errors"
)

// Kind identifies a console command.
type Kind int

const (
	CmdOpen Kind = iota + 1
	CmdClose
	CmdWrite
	CmdKey
	CmdResize
)

func (k Kind) String() string {
	switch k {
	case CmdOpen:
		return "console_open"
	case CmdClose:
		return "console_close"
	case CmdWrite:
		return "console_w2c"
	case CmdKey:
		return "console_oob_key"
	case CmdResize:
		return "console_rows_cols"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Command is one parsed console command.
type Command struct {
	Kind Kind
	Data []byte // CmdWrite
	Key  byte   // CmdKey
	Rows uint16 // CmdResize
	Cols uint16
}

// maxWriteLen caps a decoded console_w2c payload.
const maxWriteLen = 4096

// ParseCommand parses a command with its "SET " prefix already removed.
// Anything outside the console subset yields errors.ErrUnsupportedCommand.
func ParseCommand(cmd string) (Command, error) {
	name, arg, hasArg := strings.Cut(strings.TrimSpace(cmd), "=")

	switch name {
	case "console_open":
		return Command{Kind: CmdOpen}, nil

	case "console_close":
		return Command{Kind: CmdClose}, nil

	case "console_w2c":
		if !hasArg {
			return Command{}, fmt.Errorf("%s: missing payload", name)
		}
		data, err := url.PathUnescape(arg)
		if err != nil {
			return Command{}, fmt.Errorf("%s: %w", name, err)
		}
		if len(data) > maxWriteLen {
			return Command{}, fmt.Errorf("%s: payload of %d bytes exceeds %d", name, len(data), maxWriteLen)
		}
		return Command{Kind: CmdWrite, Data: []byte(data)}, nil

	case "console_oob_key":
		v, err := strconv.ParseUint(arg, 10, 8)
		if err != nil {
			return Command{}, fmt.Errorf("%s: key %q: %w", name, arg, err)
		}
		return Command{Kind: CmdKey, Key: byte(v)}, nil

	case "console_rows_cols":
		r, c, ok := strings.Cut(arg, ",")
		if !ok {
			return Command{}, fmt.Errorf("%s: want rows,cols, got %q", name, arg)
		}
		rows, err := strconv.ParseUint(strings.TrimSpace(r), 10, 16)
		if err != nil {
			return Command{}, fmt.Errorf("%s: rows: %w", name, err)
		}
		cols, err := strconv.ParseUint(strings.TrimSpace(c), 10, 16)
		if err != nil {
			return Command{}, fmt.Errorf("%s: cols: %w", name, err)
		}
		return Command{Kind: CmdResize, Rows: uint16(rows), Cols: uint16(cols)}, nil
	}

	return Command{}, fmt.Errorf("%q: %w", name, ncerr.ErrUnsupportedCommand)
}

// Format renders c in wire form, without the "SET " prefix.
func (c Command) Format() string {
	switch c.Kind {
	case CmdWrite:
		return fmt.Sprintf("%s=%s", c.Kind, url.PathEscape(string(c.Data)))
	case CmdKey:
		return fmt.Sprintf("%s=%d", c.Kind, c.Key)
	case CmdResize:
		return fmt.Sprintf("%s=%d,%d", c.Kind, c.Rows, c.Cols)
	}
	return c.Kind.String()
}
