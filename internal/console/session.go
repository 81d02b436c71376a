// Package console bridges an interactive shell on a pseudo-terminal to a
// connection-scoped message transport.
//
// A Session owns at most one child at a time.  Opening it spawns the
// shell and starts a loop goroutine that polls the pty master, forwards
// output as console_c2w messages and feeds queued out-of-band keystrokes
// back to the child.  Close, Resize, Write and Keystroke arrive from the
// connection's dispatcher and may race with the loop; lifecycle fields
// are guarded by a mutex and termination is idempotent.
package console

import (
	"context"
	"fmt"
	"sync"
	"time"

	ncerr "ptyd/internal/errors"
	"ptyd/internal/metrics"
	"ptyd/internal/reaper"
	"ptyd/internal/spawn"
	"ptyd/util"
)

// Message tags sent to the transport.
const (
	TagOutput = "console_c2w"
	TagDone   = "console_done"
)

// Notifications carried in console_c2w messages.
const (
	MsgOpen   = "CONSOLE: open connection\n"
	MsgExited = "CONSOLE: exited\n"
)

// Defaults for Options fields left zero.
const (
	DefaultPollInterval = 250 * time.Millisecond
	DefaultReadChunk    = 1024
	writeBurst          = 32
)

// Transport is the connection a session reports to.  Emit must be safe
// for concurrent use; IsLive turns false for good once the remote side
// is gone.
type Transport interface {
	Emit(tag, payload string) error
	IsLive() bool
}

// Terminal is the parent side of a running child.
type Terminal interface {
	ReadNonblock(p []byte) (int, error)
	WriteNonblock(p []byte) (int, error)
	Write(p []byte) (int, error)
	Resize(rows, cols uint16) error
	Close() error
}

// State is the session lifecycle as seen by the dispatcher.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// LoopState tracks the loop goroutine.
type LoopState int

const (
	LoopIdle LoopState = iota
	LoopRunning
	LoopDraining
	LoopClosed
)

func (s LoopState) String() string {
	switch s {
	case LoopIdle:
		return "idle"
	case LoopRunning:
		return "running"
	case LoopDraining:
		return "draining"
	case LoopClosed:
		return "closed"
	}
	return fmt.Sprintf("LoopState(%d)", int(s))
}

// Options configures a Session.  Zero fields take the package defaults.
type Options struct {
	Shell        spawn.Spec
	PollInterval time.Duration
	ReadChunk    int
	OOBCapacity  int

	Reaper  *reaper.Registry
	Metrics *metrics.Collector
	Logger  *util.Logger
}

func (o *Options) applyDefaults() {
	if o.Shell.Path == "" {
		o.Shell = spawn.LoginShell()
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.ReadChunk <= 0 {
		o.ReadChunk = DefaultReadChunk
	}
	if o.ReadChunk > util.DefaultBufSize {
		o.ReadChunk = util.DefaultBufSize
	}
	if o.OOBCapacity <= 0 {
		o.OOBCapacity = DefaultOOBCapacity
	}
	if o.Logger == nil {
		o.Logger = util.NewLogger(0)
	}
	if o.Reaper == nil {
		o.Reaper = reaper.New(o.Logger)
	}
}

// process is a started child as the loop sees it.
type process struct {
	pid  int
	term Terminal
	kill func() error
}

// Session is the console of one admin connection.
type Session struct {
	opts  Options
	tr    Transport
	log   *util.Logger
	oob   *OOBQueue
	start func(spawn.Spec) (*process, error)

	mu        sync.Mutex
	state     State
	loopState LoopState
	pid       int
	term      Terminal
	cancel    context.CancelFunc
	done      chan struct{}

	// ioMu is held shared while Resize or Write use the master, and
	// exclusively while drain closes it.
	ioMu sync.RWMutex
}

// NewSession returns a closed session reporting to tr.
func NewSession(tr Transport, opts Options) *Session {
	opts.applyDefaults()
	s := &Session{
		opts: opts,
		tr:   tr,
		log:  opts.Logger.With("console"),
		oob:  NewOOBQueue(opts.OOBCapacity),
	}
	s.start = s.spawnShell
	return s
}

func (s *Session) spawnShell(spec spawn.Spec) (*process, error) {
	c, err := spawn.Start(spec, s.opts.Reaper)
	if err != nil {
		return nil, err
	}
	return &process{pid: c.Pid, term: c.PTY, kill: c.Kill}, nil
}

// Open spawns the shell and starts the session loop.  Opening a session
// that is already open (or still closing) is a silent no-op.  A spawn
// failure is reported once to the transport and returned; the session
// stays closed.  The loop stops when ctx is cancelled.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateClosed {
		s.log.Debug("open ignored: session is %s", s.state)
		return nil
	}

	p, err := s.start(s.opts.Shell)
	if err != nil {
		s.opts.Metrics.SpawnFailed()
		s.opts.Metrics.RecordError(err.Error())
		s.log.Error("%v", err)
		if s.tr.IsLive() {
			s.tr.Emit(TagOutput, "CONSOLE: "+err.Error()+"\n") //nolint:errcheck
		}
		return err
	}

	s.oob.DrainAll() // stale keys from a previous session
	loopCtx, cancel := context.WithCancel(ctx)
	s.state = StateOpen
	s.loopState = LoopIdle
	s.pid = p.pid
	s.term = p.term
	s.cancel = cancel
	s.done = make(chan struct{})
	s.opts.Metrics.SessionOpened()
	s.log.Info("shell %s started, pid %d", s.opts.Shell.Path, p.pid)

	go s.run(loopCtx, p, s.done)
	return nil
}

// Close stops the session and waits for the loop to release the child.
// It is safe to call at any time, from any goroutine, any number of
// times.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosing
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Done returns a channel closed once the current session has fully
// ended, or nil when no session was ever opened.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Resize applies new terminal dimensions.  With no open session, or with
// a zero dimension, it does nothing.
func (s *Session) Resize(rows, cols uint16) error {
	if rows == 0 || cols == 0 {
		return nil
	}
	s.ioMu.RLock()
	defer s.ioMu.RUnlock()
	s.mu.Lock()
	term := s.term
	s.mu.Unlock()
	if term == nil {
		return nil
	}
	return term.Resize(rows, cols)
}

// Keystroke queues one out-of-band byte for the child and wakes the
// loop.  It never blocks.
func (s *Session) Keystroke(c byte) error {
	s.mu.Lock()
	open := s.state == StateOpen
	s.mu.Unlock()
	if !open {
		return ncerr.ErrNoSession
	}
	if err := s.oob.Push(c); err != nil {
		s.opts.Metrics.OOBDropped()
		return err
	}
	return nil
}

// Write sends data to the child's input in small bursts.
func (s *Session) Write(data []byte) error {
	s.ioMu.RLock()
	defer s.ioMu.RUnlock()
	s.mu.Lock()
	term := s.term
	s.mu.Unlock()
	if term == nil {
		return ncerr.ErrNoSession
	}

	for len(data) > 0 {
		n := len(data)
		if n > writeBurst {
			n = writeBurst
		}
		w, err := term.Write(data[:n])
		s.opts.Metrics.InputDelivered(int64(w))
		if err != nil {
			if s.detached(term) {
				return ncerr.ErrNoSession
			}
			return err
		}
		data = data[n:]
	}
	return nil
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LoopState returns the state of the loop goroutine.
func (s *Session) LoopState() LoopState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopState
}

// Pid returns the child pid, or 0 when no child is attached.
func (s *Session) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// detached reports whether term is no longer the session's master, so
// a failure on it comes from the session ending.
func (s *Session) detached(term Terminal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term != term
}

func (s *Session) setLoopState(ls LoopState) {
	s.mu.Lock()
	s.loopState = ls
	s.mu.Unlock()
}
