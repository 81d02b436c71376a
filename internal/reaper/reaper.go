// Package reaper collects the exit status of spawned children so they
// never linger as zombies.
//
// Every child started by ptyd is registered exactly once.  A background
// collector sweeps the registry on SIGCHLD and on a fixed tick with
// non-blocking waits, so no spawner ever blocks on a child.  Because the
// registry also knows which pids are still unreaped, it is the one place
// that may deliver a kill signal without racing pid reuse.
package reaper

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	ncerr "ptyd/internal/errors"
	"ptyd/util"
)

// DefaultInterval is the fallback sweep period when no SIGCHLD arrives.
const DefaultInterval = time.Second

// Registry is the process-wide set of children awaiting collection.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	pending  map[int]time.Time
	watchers map[int][]chan int
	logger   *util.Logger

	// Overridable for tests.
	wait func(pid int) (exited bool, status int, err error)
	kill func(pid int, sig syscall.Signal) error
}

// New returns an empty registry.  Call [Registry.Run] once to start the
// background collector.
func New(logger *util.Logger) *Registry {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Registry{
		pending:  make(map[int]time.Time),
		watchers: make(map[int][]chan int),
		logger:   logger.With("reaper"),
		wait:     wait4,
		kill:     unix.Kill,
	}
}

// Register adds pid to the registry.  Registering a pid twice is a
// programming error and returns ErrAlreadyRegistered.
func (r *Registry) Register(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("register pid %d: invalid pid", pid)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[pid]; ok {
		return fmt.Errorf("register pid %d: %w", pid, ncerr.ErrAlreadyRegistered)
	}
	r.pending[pid] = time.Now()
	r.logger.Debug("registered pid %d", pid)
	return nil
}

// Pending returns the registered pids that have not been reaped yet, in
// ascending order.
func (r *Registry) Pending() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.pending))
	for pid := range r.pending {
		out = append(out, pid)
	}
	sort.Ints(out)
	return out
}

// IsPending reports whether pid is registered and not yet reaped.
func (r *Registry) IsPending(pid int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[pid]
	return ok
}

// Collect performs one non-blocking sweep and returns the pids that
// were reaped.
func (r *Registry) Collect() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reaped []int
	for pid := range r.pending {
		exited, status, err := r.wait(pid)
		if err != nil && err != unix.ECHILD {
			r.logger.Debug("wait4 pid %d: %v", pid, err)
			continue
		}
		if err == unix.ECHILD {
			// Collected elsewhere; the status is lost.
			status = -1
		} else if !exited {
			continue
		}
		delete(r.pending, pid)
		reaped = append(reaped, pid)
		r.notify(pid, status)
	}
	if len(reaped) > 0 {
		sort.Ints(reaped)
		r.logger.Debug("reaped %v", reaped)
	}
	return reaped
}

// Watch returns a channel that receives the exit status of pid once it
// is reaped (-1 when it died of a signal or the status was lost).  For
// a pid that is not pending the channel is already closed.
func (r *Registry) Watch(pid int) <-chan int {
	ch := make(chan int, 1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[pid]; !ok {
		close(ch)
		return ch
	}
	r.watchers[pid] = append(r.watchers[pid], ch)
	return ch
}

// notify must be called with r.mu held.
func (r *Registry) notify(pid, status int) {
	for _, ch := range r.watchers[pid] {
		ch <- status
		close(ch)
	}
	delete(r.watchers, pid)
}

// Kill sends SIGKILL to pid if it is still registered.  Killing a pid
// that was already reaped, or that the kernel no longer knows, is a
// successful no-op.  Holding the registry lock while signalling means
// a pid can never be reaped (and recycled) between check and kill.
func (r *Registry) Kill(pid int) error {
	return r.Signal(pid, unix.SIGKILL)
}

// Signal delivers sig to a registered, unreaped pid.
func (r *Registry) Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[pid]; !ok {
		return nil
	}
	if err := r.kill(pid, sig); err != nil && err != unix.ESRCH {
		return fmt.Errorf("signal %v to pid %d: %w", sig, pid, err)
	}
	return nil
}

// Run collects children until ctx is cancelled, sweeping on every
// SIGCHLD and at least once per interval.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGCHLD)
	defer signal.Stop(sigCh)

	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Collect()
			return
		case <-sigCh:
			r.Collect()
		case <-tick.C:
			r.Collect()
		}
	}
}

func wait4(pid int) (bool, int, error) {
	var ws unix.WaitStatus
	wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
	if err != nil {
		return false, 0, err
	}
	if wpid != pid {
		return false, 0, nil
	}
	if ws.Exited() {
		return true, ws.ExitStatus(), nil
	}
	return true, -1, nil
}
