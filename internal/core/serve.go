package core

import (
	"context"
	"fmt"
	"time"

	"ptyd/internal/reaper"
	"ptyd/internal/server"
	"ptyd/tunnel"
	"ptyd/util"
)

// RelaySetup describes the relay listener tunnel clients connect to.
// With Command set an external program is run; otherwise the embedded
// SSH relay is started from the key files.
type RelaySetup struct {
	Addr           string
	Command        []string
	HostKey        string
	AuthorizedKeys string
}

// ServeMode hosts the admin endpoints.  It owns the reaper and, when
// tunnels are enabled, the relay listener.
type ServeMode struct {
	Server       server.Config
	ReapInterval time.Duration
	Relay        *RelaySetup // nil when tunnels are disabled
	Logger       *util.Logger
}

// Run serves until ctx is cancelled.
func (m *ServeMode) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := m.Server.Console.Reaper
	if reg == nil {
		reg = reaper.New(m.Logger)
		m.Server.Console.Reaper = reg
	}
	go reg.Run(ctx, m.ReapInterval)

	if m.Relay != nil {
		stop, err := m.startRelay(ctx, reg)
		if err != nil {
			return err
		}
		defer stop()
	}

	srv := server.New(m.Server)
	return srv.ListenAndServe(ctx)
}

func (m *ServeMode) startRelay(ctx context.Context, reg *reaper.Registry) (func(), error) {
	if len(m.Relay.Command) > 0 {
		pid, err := tunnel.StartCommand(m.Relay.Command, reg, m.Logger)
		if err != nil {
			return nil, fmt.Errorf("relay: %w", err)
		}
		return func() {
			reg.Kill(pid) //nolint:errcheck
		}, nil
	}

	hostKey, err := tunnel.LoadHostKey(m.Relay.HostKey)
	if err != nil {
		return nil, fmt.Errorf("relay: %w", err)
	}
	keys, err := tunnel.LoadAuthorizedKeys(m.Relay.AuthorizedKeys)
	if err != nil {
		return nil, fmt.Errorf("relay: %w", err)
	}
	m.Logger.Verbose("relay: %d authorized key(s)", keys.Len())

	relay, err := tunnel.NewRelay(tunnel.RelayConfig{
		Addr:       m.Relay.Addr,
		HostKey:    hostKey,
		Authorized: keys,
		Shell:      m.Server.Console.Shell,
		Reaper:     reg,
		Logger:     m.Logger,
		Metrics:    m.Server.Console.Metrics,
	})
	if err != nil {
		return nil, err
	}
	if err := relay.Listen(); err != nil {
		return nil, err
	}
	go func() {
		if err := relay.Serve(ctx); err != nil {
			m.Logger.Error("%v", err)
		}
	}()
	return func() {
		relay.Close() //nolint:errcheck
	}, nil
}
