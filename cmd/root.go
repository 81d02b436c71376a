// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"ptyd/config"
	"ptyd/internal/core"
	"ptyd/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X ptyd/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// usageOut receives help text; tests redirect it.
var usageOut io.Writer = os.Stderr //nolint:gochecknoglobals

type cliFlags struct {
	configPath  string
	verbose     int
	quiet       bool
	dryRun      bool
	showVersion bool
	showHelp    bool
}

// newFlagSet binds every flag to cfg, so parsing overwrites exactly the
// fields given on the command line.
func newFlagSet(cfg *config.Config, cli *cliFlags) *flag.FlagSet {
	fs := flag.NewFlagSet("ptyd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// ── server ───────────────────────────────────────────────────
	fs.StringVarP(&cfg.ListenAddr, "listen", "l", cfg.ListenAddr, "HTTP listen address")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Grace period for open connections on exit")

	// ── console ──────────────────────────────────────────────────
	fs.StringVar(&cfg.Shell, "shell", cfg.Shell, "Shell started for a console")
	fs.StringArrayVar(&cfg.ShellArgs, "shell-arg", cfg.ShellArgs, "Shell argument (repeatable)")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Console poll period")
	fs.IntVar(&cfg.ReadChunk, "read-chunk", cfg.ReadChunk, "Bytes read from the pty per poll")
	fs.IntVar(&cfg.OOBCapacity, "oob-capacity", cfg.OOBCapacity, "Out-of-band key queue capacity")
	fs.Uint16Var(&cfg.Rows, "rows", cfg.Rows, "Initial terminal rows")
	fs.Uint16Var(&cfg.Cols, "cols", cfg.Cols, "Initial terminal columns")
	fs.BoolVar(&cfg.ConsoleLocalOnly, "console-local", cfg.ConsoleLocalOnly, "Only allow consoles from local addresses")
	fs.StringVar(&cfg.NoConsoleFile, "no-console-file", cfg.NoConsoleFile, "Consoles are refused while this file exists")
	fs.DurationVar(&cfg.ReapInterval, "reap-interval", cfg.ReapInterval, "Fallback child collection period")

	// ── tunnel ───────────────────────────────────────────────────
	fs.BoolVarP(&cfg.TunnelEnabled, "tunnel", "T", cfg.TunnelEnabled, "Enable the /tunnel endpoint and relay listener")
	fs.StringVar(&cfg.RelayAddr, "relay-addr", cfg.RelayAddr, "Relay listener address")
	fs.StringVar(&cfg.RelayCommand, "relay-command", cfg.RelayCommand, "External relay listener command")
	fs.StringVar(&cfg.RelayClient, "relay-client", cfg.RelayClient, "Relay client program (default: ptyd nc)")
	fs.StringVar(&cfg.RelayHostKey, "relay-host-key", cfg.RelayHostKey, "Embedded relay host key (generated if missing)")
	fs.StringVar(&cfg.RelayAuthorizedKeys, "relay-authorized-keys", cfg.RelayAuthorizedKeys, "Embedded relay authorized_keys file")

	// ── client ───────────────────────────────────────────────────
	fs.StringVarP(&cfg.AttachURL, "attach", "a", cfg.AttachURL, "Attach to a remote console (ws:// URL)")
	fs.DurationVarP(&cfg.Timeout, "timeout", "w", cfg.Timeout, "Connect timeout")
	fs.IntVar(&cfg.DialRetries, "dial-retries", cfg.DialRetries, "nc: connection attempts")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&cli.verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVarP(&cli.quiet, "quiet", "q", false, "Only log errors")

	fs.StringVarP(&cli.configPath, "config", "f", "", "YAML config file (or $PTYD_CONFIG)")
	fs.BoolVar(&cli.dryRun, "dry-run", false, "Validate the configuration and exit")
	fs.BoolVar(&cli.showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&cli.showHelp, "help", "h", false, "Show this help")
	return fs
}

// Execute parses args and runs the selected ptyd mode.
func Execute(ctx context.Context, args []string) error {
	cfg, cli, err := parse(args)
	if err != nil {
		return err
	}
	if cli.showHelp {
		printUsage(newFlagSet(config.Default(), &cliFlags{}))
		return nil
	}
	if cli.showVersion {
		fmt.Printf("ptyd %s\n", version)
		return nil
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cli.dryRun {
		return nil
	}

	// ── build & run ──────────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	logger.Debug("mode %s", cfg.Mode)
	return mode.Run(ctx)
}

// parse applies defaults, then the config file and environment, then
// the command line.  Flags are parsed twice: once to find --config,
// once more on top of the loaded values so they take precedence.
func parse(args []string) (*config.Config, *cliFlags, error) {
	probe := &cliFlags{}
	if err := newFlagSet(config.Default(), probe).Parse(args); err != nil {
		return nil, nil, err
	}

	cfg := config.Default()
	if !probe.showHelp && !probe.showVersion {
		if err := config.Load(cfg, probe.configPath); err != nil {
			return nil, nil, err
		}
	}

	cli := &cliFlags{}
	fs := newFlagSet(cfg, cli)
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	cfg.Verbose += cli.verbose
	if cli.quiet {
		cfg.Verbose = 0
	}

	if err := parsePositional(cfg, fs.Args()); err != nil {
		return nil, nil, err
	}
	return cfg, cli, nil
}

// ── helpers ──────────────────────────────────────────────────────────

func parsePositional(cfg *config.Config, remaining []string) error {
	if len(remaining) > 0 && remaining[0] == "nc" {
		target, err := config.ParseTarget(remaining[1:])
		if err != nil {
			return fmt.Errorf("nc: %w", err)
		}
		cfg.Mode = config.ModeNC
		cfg.Target = target
		return nil
	}
	if len(remaining) > 0 {
		return fmt.Errorf("unexpected argument %q (use --help for usage)", remaining[0])
	}
	if cfg.AttachURL != "" {
		cfg.Mode = config.ModeAttach
	}
	return nil
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(usageOut, `ptyd – remote admin console daemon v%s

Bridges an interactive shell on a pseudo-terminal to a websocket admin
connection, with an optional SSH relay for tunnelled access.

Usage:
  ptyd [options]                              Serve /admin (and /tunnel)
  ptyd --attach ws://HOST:PORT/admin          Attach to a remote console
  ptyd nc HOST PORT                           Relay stdin/stdout over TCP
  ptyd nc ws://HOST:PORT/tunnel               Relay stdin/stdout over a tunnel

Options:
`, version)
	fs.SetOutput(usageOut)
	fs.PrintDefaults()
	fmt.Fprintf(usageOut, `
Environment:
  Every option is also read from PTYD_<NAME>, e.g. PTYD_LISTEN_ADDR,
  PTYD_POLL_INTERVAL, PTYD_TUNNEL_ENABLED.

Examples:
  ptyd -v --console-local                     Local-network consoles only
  ptyd -T --relay-authorized-keys ~/.ssh/authorized_keys
  ptyd -a ws://device:8073/admin              Interactive session
`)
}
