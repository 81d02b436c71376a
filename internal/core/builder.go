package core

import (
	"ptyd/config"
	"ptyd/internal/admin"
	"ptyd/internal/capability"
	"ptyd/internal/console"
	"ptyd/internal/metrics"
	"ptyd/internal/reaper"
	"ptyd/internal/retry"
	"ptyd/internal/server"
	"ptyd/internal/spawn"
	"ptyd/internal/transport"
	"ptyd/tunnel"
	"ptyd/util"
)

// Build constructs the appropriate Mode from the given configuration.
// The configuration is expected to have passed Validate.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	switch cfg.Mode {
	case config.ModeAttach:
		return buildAttach(cfg, logger), nil
	case config.ModeNC:
		return buildConnect(cfg, logger), nil
	default:
		return buildServe(cfg, logger)
	}
}

// ── mode builders ────────────────────────────────────────────────────

func buildServe(cfg *config.Config, logger *util.Logger) (Mode, error) {
	m := metrics.New()
	shell := spawn.Spec{
		Path: cfg.Shell,
		Args: cfg.ShellArgs,
		Rows: cfg.Rows,
		Cols: cfg.Cols,
	}

	mode := &ServeMode{
		Server: server.Config{
			Addr: cfg.ListenAddr,
			Console: console.Options{
				Shell:        shell,
				PollInterval: cfg.PollInterval,
				ReadChunk:    cfg.ReadChunk,
				OOBCapacity:  cfg.OOBCapacity,
				Reaper:       reaper.New(logger),
				Metrics:      m,
				Logger:       logger,
			},
			Policy: admin.Policy{
				NoConsoleFile: cfg.NoConsoleFile,
				LocalOnly:     cfg.ConsoleLocalOnly,
			},
			ShutdownTimeout: cfg.ShutdownTimeout,
		},
		ReapInterval: cfg.ReapInterval,
		Logger:       logger,
	}

	if cfg.TunnelEnabled {
		client, err := tunnel.ClientSpec(cfg.RelayClient, cfg.RelayAddr)
		if err != nil {
			return nil, err
		}
		mode.Server.Tunnel = &client
		mode.Relay = &RelaySetup{
			Addr:           cfg.RelayAddr,
			Command:        cfg.RelayCommandArgv(),
			HostKey:        cfg.RelayHostKey,
			AuthorizedKeys: cfg.RelayAuthorizedKeys,
		}
	}
	return mode, nil
}

func buildAttach(cfg *config.Config, logger *util.Logger) Mode {
	return &AttachMode{URL: cfg.AttachURL, Logger: logger}
}

func buildConnect(cfg *config.Config, logger *util.Logger) Mode {
	var backoff *retry.Backoff
	if cfg.DialRetries > 1 {
		backoff = retry.DialBackoff(cfg.DialRetries)
	}
	return &ConnectMode{
		Dialer:     transport.ForAddress(cfg.Target, cfg.Timeout),
		Capability: &capability.Relay{},
		Network:    "tcp",
		Address:    cfg.Target,
		Backoff:    backoff,
		Logger:     logger,
	}
}
