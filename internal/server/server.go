// Package server is the HTTP face of ptyd serve mode.
//
//	GET /admin    websocket, console commands in and console output out
//	GET /tunnel   websocket, binary stream bridged to a relay client
//	GET /metrics  JSON counters
//	GET /health   liveness
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"ptyd/internal/admin"
	"ptyd/internal/console"
	ncerr "ptyd/internal/errors"
	"ptyd/internal/metrics"
	"ptyd/internal/reaper"
	"ptyd/internal/retry"
	"ptyd/internal/transport"
	"ptyd/tunnel"
	"ptyd/util"
)

// DefaultShutdownTimeout bounds how long Shutdown waits for open
// connections to wind down.
const DefaultShutdownTimeout = 5 * time.Second

// Config configures a Server.
type Config struct {
	Addr            string
	Console         console.Options // Reaper, Metrics and Logger are shared by every connection
	Policy          admin.Policy
	Tunnel          *tunnel.Spec // nil disables /tunnel
	ShutdownTimeout time.Duration
}

// Server hosts the admin and tunnel endpoints.
type Server struct {
	cfg     Config
	logger  *util.Logger
	metrics *metrics.Collector
	breaker *retry.Breaker
	router  chi.Router

	baseCtx   context.Context
	stop      context.CancelFunc
	handlers  sync.WaitGroup
	ownReaper bool

	mu       sync.Mutex
	sessions map[string]*console.Session
	httpSrv  *http.Server
	ln       net.Listener
}

// New builds the router.  The server does not listen until
// ListenAndServe or Serve is called.
func New(cfg Config) *Server {
	if cfg.Console.Logger == nil {
		cfg.Console.Logger = util.NewLogger(0)
	}
	if cfg.Console.Metrics == nil {
		cfg.Console.Metrics = metrics.New()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	ownReaper := cfg.Console.Reaper == nil
	if ownReaper {
		cfg.Console.Reaper = reaper.New(cfg.Console.Logger)
	}

	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		logger:    cfg.Console.Logger,
		metrics:   cfg.Console.Metrics,
		sessions:  make(map[string]*console.Session),
		baseCtx:   ctx,
		stop:      stop,
		ownReaper: ownReaper,
	}

	if cfg.Tunnel != nil {
		s.breaker = retry.NewBreaker(retry.BreakerConfig{
			Threshold: 3,
			Cooldown:  30 * time.Second,
			Fatal:     missingProgram,
			OnStateChange: func(from, to retry.State) {
				s.logger.Warn("tunnel spawner %s -> %s", from, to)
			},
		})
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.logRequests)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/admin", s.handleAdmin)
	if cfg.Tunnel != nil {
		r.Get("/tunnel", s.handleTunnel)
	}
	s.router = r
	return s
}

// Handler returns the HTTP handler, for embedding or httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Metrics returns the shared collector.
func (s *Server) Metrics() *metrics.Collector { return s.metrics }

// Sessions returns the number of connected admin clients.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Addr returns the bound address once listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.cfg.Addr
}

// ListenAndServe binds cfg.Addr and serves until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}
	s.mu.Lock()
	s.ln = ln
	s.httpSrv = srv
	s.mu.Unlock()

	s.logger.Info("listening on %s", ln.Addr())
	if s.ownReaper {
		go s.cfg.Console.Reaper.Run(s.baseCtx, reaper.DefaultInterval)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		s.stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown stops accepting, ends every admin session and waits up to
// the shutdown timeout for handlers to return.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()

	// Hijacked websocket connections are invisible to http.Server, so
	// they are ended through the base context.
	s.stop()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown: %d connection(s) still open", s.Sessions())
	}
	return err
}

// ── handlers ─────────────────────────────────────────────────────────

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("%s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"status":   "ok",
		"sessions": s.Sessions(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(s.metrics.JSON())) //nolint:errcheck
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	s.handlers.Add(1)
	defer s.handlers.Done()

	mc, err := transport.AcceptMessageConn(w, r, nil)
	if err != nil {
		s.logger.Verbose("admin upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	defer mc.Close() //nolint:errcheck

	id := uuid.NewString()[:8]
	log := s.logger.With("conn=" + id)
	local := util.IsLocalAddr(r.RemoteAddr)
	log.Verbose("admin connection from %s (local=%v)", r.RemoteAddr, local)

	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()

	opts := s.cfg.Console
	opts.Logger = log
	sess := console.NewSession(mc, opts)
	disp := admin.NewDispatcher(sess, mc, s.cfg.Policy, local, log, s.metrics)

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	defer func() {
		sess.Close() //nolint:errcheck
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		log.Verbose("admin connection closed")
	}()

	ctx := r.Context()
	for {
		cmd, ok, err := mc.ReadCommand(ctx)
		if err != nil {
			if !transport.IsClosed(err) {
				log.Verbose("read: %v", err)
			}
			return
		}
		if !ok {
			log.Debug("ignored non-command frame")
			continue
		}
		disp.Handle(ctx, cmd) //nolint:errcheck
	}
}

func (s *Server) handleTunnel(w http.ResponseWriter, r *http.Request) {
	s.handlers.Add(1)
	defer s.handlers.Done()

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Verbose("tunnel upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	ws.SetReadLimit(-1)

	log := s.logger.With("tunnel=" + uuid.NewString()[:8])

	var tun *tunnel.Tunnel
	err = s.breaker.Do(func() error {
		var err error
		tun, err = tunnel.Spawn(*s.cfg.Tunnel, s.cfg.Console.Reaper, log, s.metrics)
		return err
	})
	if err != nil {
		log.Error("%v", err)
		s.metrics.RecordError(err.Error())
		ws.Close(websocket.StatusInternalError, "tunnel unavailable") //nolint:errcheck
		return
	}

	ctx := r.Context()
	if err := tun.Serve(ctx, transport.StreamConn(ctx, ws)); err != nil {
		log.Verbose("tunnel: %v", err)
	}
}

// missingProgram reports a relay client that cannot be found at all;
// retrying it before the cooldown is pointless.
func missingProgram(err error) bool {
	var se *ncerr.SpawnError
	if !errors.As(err, &se) || se.Step != "exec" {
		return false
	}
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist)
}
