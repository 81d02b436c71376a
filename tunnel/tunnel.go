// Package tunnel bridges a websocket stream to a locally spawned relay
// client, and hosts the relay listener that client connects to.
//
// The client child (by default this binary's own "nc" mode) is started
// with its stdin and stdout on two pipes; bytes arriving on the /tunnel
// websocket go into the child's stdin and everything it prints goes back
// out.  The listener is either an external command (an sshd) or the
// embedded SSH relay in relay.go.
package tunnel

import (
	"context"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"ptyd/internal/capability"
	ncerr "ptyd/internal/errors"
	"ptyd/internal/metrics"
	"ptyd/internal/reaper"
	"ptyd/internal/session"
	"ptyd/internal/spawn"
	"ptyd/util"
)

// Spec describes the relay client to start.
type Spec struct {
	Path string
	Args []string
	Env  []string // inherited when nil
}

// ClientSpec returns the relay client invocation for relayAddr.  With an
// empty client the running executable is reused in nc mode; otherwise
// client is expected to take "HOST PORT" like nc(1).
func ClientSpec(client, relayAddr string) (Spec, error) {
	host, port, err := net.SplitHostPort(relayAddr)
	if err != nil {
		return Spec{}, err
	}
	if _, err := strconv.Atoi(port); err != nil {
		return Spec{}, err
	}
	if client != "" {
		return Spec{Path: client, Args: []string{host, port}}, nil
	}
	self, err := os.Executable()
	if err != nil {
		return Spec{}, err
	}
	return Spec{Path: self, Args: []string{"nc", host, port}}, nil
}

// Tunnel is a running relay client reachable through its pipes.
type Tunnel struct {
	Pid int

	stdin  *os.File // parent's write end of the child's stdin
	stdout *os.File // parent's read end of the child's stdout

	reg     *reaper.Registry
	logger  *util.Logger
	metrics *metrics.Collector

	mu     sync.Mutex
	closed bool
}

// Spawn starts spec with its standard streams on fresh pipes and
// registers it with reg.  The child runs in its own session and receives
// SIGTERM if ptyd dies.  Failures are *errors.SpawnError values and are
// never retried here.
func Spawn(spec Spec, reg *reaper.Registry, logger *util.Logger, m *metrics.Collector) (*Tunnel, error) {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	resolved, err := exec.LookPath(spec.Path)
	if err != nil {
		return nil, ncerr.Spawn("exec", spec.Path, err)
	}

	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, ncerr.Spawn("pipe", resolved, err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		inR.Close()
		inW.Close()
		return nil, ncerr.Spawn("pipe", resolved, err)
	}

	cmd := exec.Command(resolved, spec.Args...)
	cmd.Env = spec.Env
	cmd.Stdin = inR
	cmd.Stdout = outW
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = spawn.DetachedAttr()

	startErr := cmd.Start()
	// The child holds its own copies now.
	inR.Close()
	outW.Close()
	if startErr != nil {
		inW.Close()
		outR.Close()
		return nil, ncerr.Spawn("exec", resolved, startErr)
	}

	pid := cmd.Process.Pid
	cmd.Process.Release() //nolint:errcheck
	if err := reg.Register(pid); err != nil {
		inW.Close()
		outR.Close()
		return nil, ncerr.Spawn("fork", resolved, err)
	}

	m.TunnelOpened()
	logger.Verbose("tunnel: started %s (pid %d)", resolved, pid)
	return &Tunnel{
		Pid:     pid,
		stdin:   inW,
		stdout:  outR,
		reg:     reg,
		logger:  logger,
		metrics: m,
	}, nil
}

// Serve copies between conn and the child until either side closes or
// ctx is cancelled, then closes the tunnel.
func (t *Tunnel) Serve(ctx context.Context, conn net.Conn) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ncerr.ErrTunnelClosed
	}
	defer t.Close() //nolint:errcheck

	sess := session.New(conn, t.stdout, t.stdin, t.logger)
	relay := &capability.Relay{Metrics: t.metrics}
	return relay.Handle(ctx, sess)
}

// Close releases the pipes and kills the child.  It is idempotent.
func (t *Tunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.stdin.Close()
	t.stdout.Close()
	return t.reg.Kill(t.Pid)
}
