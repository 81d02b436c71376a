package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "ptyd/internal/errors"
	"ptyd/internal/metrics"
	"ptyd/internal/reaper"
	"ptyd/internal/spawn"
	"ptyd/util"
)

// exitWait bounds how long a finished shell's exit status is awaited
// before the channel is closed without one.
const exitWait = 2 * time.Second

// RelayConfig configures the embedded SSH relay.
type RelayConfig struct {
	Addr       string
	HostKey    ssh.Signer
	Authorized *AuthorizedKeys
	Shell      spawn.Spec
	Reaper     *reaper.Registry
	Logger     *util.Logger
	Metrics    *metrics.Collector
}

// Relay is a minimal SSH server: public-key auth, "session" channels
// only, every shell or exec request runs on its own pty.
type Relay struct {
	cfg    RelayConfig
	sshCfg *ssh.ServerConfig
	logger *util.Logger

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewRelay validates cfg and prepares the SSH server configuration.
func NewRelay(cfg RelayConfig) (*Relay, error) {
	if cfg.HostKey == nil {
		return nil, errors.New("relay: host key is required")
	}
	if cfg.Authorized == nil {
		return nil, errors.New("relay: authorized keys are required")
	}
	if cfg.Reaper == nil {
		cfg.Reaper = reaper.New(cfg.Logger)
	}
	if cfg.Logger == nil {
		cfg.Logger = util.NewLogger(0)
	}
	if cfg.Shell.Path == "" {
		cfg.Shell = spawn.LoginShell()
	}

	sshCfg := &ssh.ServerConfig{
		PublicKeyCallback: cfg.Authorized.Check,
		ServerVersion:     "SSH-2.0-ptyd",
	}
	sshCfg.AddHostKey(cfg.HostKey)

	return &Relay{
		cfg:    cfg,
		sshCfg: sshCfg,
		logger: cfg.Logger.With("relay"),
		conns:  make(map[net.Conn]struct{}),
	}, nil
}

// Listen binds the relay address.
func (r *Relay) Listen() error {
	ln, err := net.Listen("tcp", r.cfg.Addr)
	if err != nil {
		return ncerr.WrapSSH("listen", r.cfg.Addr, err)
	}
	r.mu.Lock()
	r.ln = ln
	r.mu.Unlock()
	r.logger.Info("listening on %s", ln.Addr())
	r.logger.Verbose("host key: %s", KnownHostsLine(ln.Addr().String(), r.cfg.HostKey.PublicKey()))
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (r *Relay) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ln != nil {
		return r.ln.Addr().String()
	}
	return r.cfg.Addr
}

// Serve accepts connections until ctx is cancelled or Close is called.
func (r *Relay) Serve(ctx context.Context) error {
	r.mu.Lock()
	ln := r.ln
	r.mu.Unlock()
	if ln == nil {
		if err := r.Listen(); err != nil {
			return err
		}
		r.mu.Lock()
		ln = r.ln
		r.mu.Unlock()
	}

	go func() {
		<-ctx.Done()
		r.Close() //nolint:errcheck
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			r.mu.Lock()
			closed := r.closed
			r.mu.Unlock()
			if closed || ctx.Err() != nil {
				r.wg.Wait()
				return nil
			}
			return ncerr.WrapSSH("accept", r.cfg.Addr, err)
		}
		if !r.track(conn) {
			conn.Close()
			continue
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer r.untrack(conn)
			r.handleConn(ctx, conn)
		}()
	}
}

// Close stops accepting and drops every open connection.
func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for c := range r.conns {
		c.Close()
	}
	if r.ln != nil {
		return r.ln.Close()
	}
	return nil
}

func (r *Relay) track(c net.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.conns[c] = struct{}{}
	return true
}

func (r *Relay) untrack(c net.Conn) {
	r.mu.Lock()
	delete(r.conns, c)
	r.mu.Unlock()
	c.Close()
}

func (r *Relay) handleConn(ctx context.Context, conn net.Conn) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, r.sshCfg)
	if err != nil {
		r.logger.Verbose("handshake from %s: %v", conn.RemoteAddr(), err)
		r.cfg.Metrics.RecordError(ncerr.WrapSSH("handshake", conn.RemoteAddr().String(), err).Error())
		return
	}
	defer sconn.Close()

	log := r.logger.With(fmt.Sprintf("%s@%s", sconn.User(), conn.RemoteAddr()))
	if sconn.Permissions != nil {
		log.Verbose("authenticated with %s", sconn.Permissions.Extensions["pubkey-fp"])
	}
	r.cfg.Metrics.ConnectionOpened()
	defer r.cfg.Metrics.ConnectionClosed()

	go ssh.DiscardRequests(reqs)

	var wg sync.WaitGroup
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "only session channels are supported") //nolint:errcheck
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			log.Debug("accept channel: %v", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.handleSession(ctx, ch, chReqs, log)
		}()
	}
	wg.Wait()
}

// ── session channel ──────────────────────────────────────────────────

type ptyRequestMsg struct {
	Term     string
	Columns  uint32
	Rows     uint32
	Width    uint32
	Height   uint32
	Modelist string
}

type windowChangeMsg struct {
	Columns uint32
	Rows    uint32
	Width   uint32
	Height  uint32
}

type envMsg struct {
	Name  string
	Value string
}

type execMsg struct {
	Command string
}

type exitStatusMsg struct {
	Status uint32
}

func clampDim(v uint32) uint16 {
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}

func (r *Relay) handleSession(ctx context.Context, ch ssh.Channel, reqs <-chan *ssh.Request, log *util.Logger) {
	defer ch.Close()

	var (
		term    = "xterm"
		rows    uint16
		cols    uint16
		env     []string
		child   *spawn.Child
		pumping chan struct{}
	)

	for {
		var req *ssh.Request
		var ok bool
		select {
		case <-ctx.Done():
			if child != nil {
				child.Kill()      //nolint:errcheck
				child.PTY.Close() //nolint:errcheck
			}
			return
		case <-pumping:
			return
		case req, ok = <-reqs:
			if !ok {
				if child != nil {
					child.Kill()      //nolint:errcheck
					child.PTY.Close() //nolint:errcheck
				}
				return
			}
		}

		switch req.Type {
		case "pty-req":
			var msg ptyRequestMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				req.Reply(false, nil) //nolint:errcheck
				continue
			}
			if msg.Term != "" {
				term = msg.Term
			}
			rows, cols = clampDim(msg.Rows), clampDim(msg.Columns)
			req.Reply(true, nil) //nolint:errcheck

		case "window-change":
			var msg windowChangeMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				continue
			}
			rows, cols = clampDim(msg.Rows), clampDim(msg.Columns)
			if child != nil && rows > 0 && cols > 0 {
				if err := child.PTY.Resize(rows, cols); err != nil {
					log.Debug("resize: %v", err)
				}
			}

		case "env":
			var msg envMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				req.Reply(false, nil) //nolint:errcheck
				continue
			}
			env = append(env, msg.Name+"="+msg.Value)
			req.Reply(true, nil) //nolint:errcheck

		case "shell", "exec":
			if child != nil {
				req.Reply(false, nil) //nolint:errcheck
				continue
			}
			spec := r.cfg.Shell
			if req.Type == "exec" {
				var msg execMsg
				if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
					req.Reply(false, nil) //nolint:errcheck
					continue
				}
				spec.Args = []string{"-c", msg.Command}
			}
			spec.Rows, spec.Cols = rows, cols
			spec.Env = append(append(os.Environ(), "TERM="+term), env...)

			c, err := spawn.Start(spec, r.cfg.Reaper)
			if err != nil {
				log.Error("%v", err)
				r.cfg.Metrics.SpawnFailed()
				r.cfg.Metrics.RecordError(err.Error())
				req.Reply(false, nil) //nolint:errcheck
				fmt.Fprintf(ch.Stderr(), "ptyd: %v\r\n", err)
				return
			}
			child = c
			req.Reply(true, nil) //nolint:errcheck
			log.Verbose("%s started (pid %d)", req.Type, child.Pid)
			r.cfg.Metrics.SessionOpened()

			pumping = make(chan struct{})
			go func(c *spawn.Child, done chan struct{}) {
				defer close(done)
				r.pump(ch, c, log)
			}(child, pumping)

		default:
			if req.WantReply {
				req.Reply(false, nil) //nolint:errcheck
			}
		}
	}
}

// pump copies between the channel and the child's pty until the child
// closes its side, then reports its exit status.
func (r *Relay) pump(ch ssh.Channel, c *spawn.Child, log *util.Logger) {
	defer r.cfg.Metrics.SessionClosed()
	status := r.cfg.Reaper.Watch(c.Pid)

	go func() {
		n, _ := io.Copy(c.PTY, ch)
		r.cfg.Metrics.InputDelivered(n)
	}()
	n, err := io.Copy(ch, c.PTY)
	r.cfg.Metrics.OutputEmitted(n)
	if err != nil {
		log.Debug("pty read: %v", err)
	}

	timer := time.NewTimer(exitWait)
	defer timer.Stop()
	select {
	case code, ok := <-status:
		if ok && code >= 0 {
			ch.SendRequest("exit-status", false, ssh.Marshal(exitStatusMsg{Status: uint32(code)})) //nolint:errcheck
		}
		log.Verbose("pid %d exited (%d)", c.Pid, code)
	case <-timer.C:
		log.Verbose("pid %d still running after pty close, killing", c.Pid)
	}
	c.Kill()        //nolint:errcheck
	c.PTY.Close()   //nolint:errcheck
	ch.CloseWrite() //nolint:errcheck
}

// ── external listener ────────────────────────────────────────────────

// StartCommand starts an external relay listener such as
// "/usr/sbin/sshd -D -p 1138" and registers it with reg.  The listener
// runs detached from any terminal and is killed if ptyd dies.
func StartCommand(argv []string, reg *reaper.Registry, logger *util.Logger) (int, error) {
	if len(argv) == 0 {
		return 0, errors.New("relay command is empty")
	}
	if logger == nil {
		logger = util.NewLogger(0)
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return 0, ncerr.Spawn("exec", argv[0], err)
	}
	cmd := exec.Command(path, argv[1:]...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = spawn.DetachedAttr()
	if err := cmd.Start(); err != nil {
		return 0, ncerr.Spawn("exec", path, err)
	}
	pid := cmd.Process.Pid
	cmd.Process.Release() //nolint:errcheck
	if err := reg.Register(pid); err != nil {
		return 0, ncerr.Spawn("fork", path, err)
	}
	logger.Info("relay: started %s (pid %d)", path, pid)
	return pid, nil
}
