package admin

import (
	"context"
	"errors"

	"ptyd/internal/console"
	ncerr "ptyd/internal/errors"
	"ptyd/internal/metrics"
	"ptyd/util"
)

// Console is the session a dispatcher drives.  *console.Session
// implements it.
type Console interface {
	Open(ctx context.Context) error
	Close() error
	Write(data []byte) error
	Keystroke(c byte) error
	Resize(rows, cols uint16) error
	State() console.State
}

// Dispatcher routes the console commands of one connection.
type Dispatcher struct {
	console Console
	tr      console.Transport
	policy  Policy
	local   bool
	logger  *util.Logger
	metrics *metrics.Collector
}

// NewDispatcher returns a dispatcher for a connection.  local reports
// whether the peer address counts as local for Policy.LocalOnly.
func NewDispatcher(c Console, tr console.Transport, policy Policy, local bool, logger *util.Logger, m *metrics.Collector) *Dispatcher {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Dispatcher{
		console: c,
		tr:      tr,
		policy:  policy,
		local:   local,
		logger:  logger,
		metrics: m,
	}
}

// Handle executes one command (without its "SET " prefix).  Unknown
// commands are ignored.  The returned error is informational: the
// connection carries on whatever it is.
func (d *Dispatcher) Handle(ctx context.Context, line string) error {
	cmd, err := ParseCommand(line)
	if err != nil {
		if errors.Is(err, ncerr.ErrUnsupportedCommand) {
			d.logger.Debug("ignored %v", err)
		} else {
			d.logger.Verbose("bad command: %v", err)
		}
		return err
	}
	return d.Execute(ctx, cmd)
}

// Execute runs a parsed command.
func (d *Dispatcher) Execute(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case CmdOpen:
		return d.open(ctx)

	case CmdClose:
		return d.console.Close()

	case CmdWrite:
		err := d.console.Write(cmd.Data)
		if errors.Is(err, ncerr.ErrNoSession) {
			d.logger.Debug("console not open for write")
		}
		return err

	case CmdKey:
		err := d.console.Keystroke(cmd.Key)
		switch {
		case errors.Is(err, ncerr.ErrQueueFull):
			d.logger.Debug("key %#02x dropped: queue full", cmd.Key)
		case errors.Is(err, ncerr.ErrNoSession):
			d.logger.Debug("key %#02x dropped: no session", cmd.Key)
		}
		return err

	case CmdResize:
		d.logger.Debug("resize %dx%d", cmd.Rows, cmd.Cols)
		return d.console.Resize(cmd.Rows, cmd.Cols)
	}
	return ncerr.ErrUnsupportedCommand
}

func (d *Dispatcher) open(ctx context.Context) error {
	if d.console.State() != console.StateClosed {
		return nil
	}
	if notice, err := d.policy.Check(d.local); err != nil {
		d.logger.Info("console refused: %v", err)
		d.metrics.RecordError(err.Error())
		if d.tr.IsLive() {
			d.tr.Emit(console.TagOutput, notice) //nolint:errcheck
		}
		return err
	}
	return d.console.Open(ctx)
}
