// Package config defines the runtime configuration of ptyd and loads it
// from defaults, an optional YAML file, PTYD_* environment variables and
// command-line flags, in increasing order of precedence.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	ncerr "ptyd/internal/errors"
)

// Mode selects what the binary does.
type Mode int

const (
	ModeServe  Mode = iota // host the admin endpoints
	ModeAttach             // interactive client for a remote console
	ModeNC                 // stdin/stdout relay client
)

func (m Mode) String() string {
	switch m {
	case ModeServe:
		return "serve"
	case ModeAttach:
		return "attach"
	case ModeNC:
		return "nc"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Config holds every tuneable of a ptyd process.
//
// Field tags drive both loaders: yaml names the key in the config file,
// split_words gives the environment name (ListenAddr → PTYD_LISTEN_ADDR).
type Config struct {
	// ── Server ───────────────────────────────────────────────────────
	ListenAddr      string        `yaml:"listen_addr" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`

	// ── Console ──────────────────────────────────────────────────────
	Shell            string        `yaml:"shell"`
	ShellArgs        []string      `yaml:"shell_args" split_words:"true"`
	PollInterval     time.Duration `yaml:"poll_interval" split_words:"true"`
	ReadChunk        int           `yaml:"read_chunk" split_words:"true"`
	OOBCapacity      int           `yaml:"oob_capacity" split_words:"true"`
	Rows             uint16        `yaml:"rows"`
	Cols             uint16        `yaml:"cols"`
	ConsoleLocalOnly bool          `yaml:"console_local" split_words:"true"`
	NoConsoleFile    string        `yaml:"no_console_file" split_words:"true"`
	ReapInterval     time.Duration `yaml:"reap_interval" split_words:"true"`

	// ── Tunnel ───────────────────────────────────────────────────────
	TunnelEnabled       bool   `yaml:"tunnel_enabled" split_words:"true"`
	RelayAddr           string `yaml:"relay_addr" split_words:"true"`
	RelayCommand        string `yaml:"relay_command" split_words:"true"` // external listener, e.g. "sshd -D -p 1138"
	RelayClient         string `yaml:"relay_client" split_words:"true"`  // client program; empty runs "ptyd nc"
	RelayHostKey        string `yaml:"relay_host_key" split_words:"true"`
	RelayAuthorizedKeys string `yaml:"relay_authorized_keys" split_words:"true"`

	// ── Client ───────────────────────────────────────────────────────
	Mode        Mode          `yaml:"-" ignored:"true"`
	AttachURL   string        `yaml:"attach" split_words:"true"`
	Target      string        `yaml:"-" ignored:"true"` // nc: host:port or ws:// URL
	Timeout     time.Duration `yaml:"timeout"`
	DialRetries int           `yaml:"dial_retries" split_words:"true"`

	// ── Output ───────────────────────────────────────────────────────
	Verbose    int    `yaml:"verbose"`
	ConfigFile string `yaml:"-" ignored:"true"`
}

// ShellArgv returns the shell command line.
func (c *Config) ShellArgv() []string {
	return append([]string{c.Shell}, c.ShellArgs...)
}

// RelayCommandArgv splits RelayCommand on whitespace.
func (c *Config) RelayCommandArgv() []string {
	return strings.Fields(c.RelayCommand)
}

// ── Address helpers ──────────────────────────────────────────────────

// ParsePort accepts a decimal port in 1–65535.
func ParsePort(spec string) (int, error) {
	port, err := strconv.Atoi(spec)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", spec)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", port)
	}
	return port, nil
}

// ParseTarget builds an nc target from command-line arguments: either a
// single ws:// URL or HOST PORT.
func ParseTarget(args []string) (string, error) {
	switch len(args) {
	case 1:
		u, err := url.Parse(args[0])
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return "", fmt.Errorf("invalid relay URL %q", args[0])
		}
		return args[0], nil
	case 2:
		port, err := ParsePort(args[1])
		if err != nil {
			return "", err
		}
		return net.JoinHostPort(args[0], strconv.Itoa(port)), nil
	}
	return "", fmt.Errorf("nc needs HOST PORT or a ws:// URL")
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAttach:
		u, err := url.Parse(c.AttachURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return &ncerr.ConfigError{
				Field: "attach", Value: c.AttachURL,
				Message: "must be a ws:// or wss:// URL",
				Hint:    "e.g. --attach ws://device:8080/admin",
			}
		}
		return nil
	case ModeNC:
		if c.Target == "" {
			return &ncerr.ConfigError{Field: "nc", Message: "target is required", Hint: "ptyd nc HOST PORT"}
		}
		return nil
	}

	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return &ncerr.ConfigError{Field: "listen", Value: c.ListenAddr, Message: err.Error()}
	}
	if c.Shell == "" {
		return &ncerr.ConfigError{Field: "shell", Message: "shell is required"}
	}
	if c.PollInterval < time.Millisecond || c.PollInterval > 10*time.Second {
		return &ncerr.ConfigError{
			Field: "poll-interval", Value: c.PollInterval,
			Message: "must be between 1ms and 10s",
		}
	}
	if c.ReadChunk < 16 || c.ReadChunk > MaxReadChunk {
		return &ncerr.ConfigError{
			Field: "read-chunk", Value: c.ReadChunk,
			Message: fmt.Sprintf("must be between 16 and %d", MaxReadChunk),
		}
	}
	if c.OOBCapacity < 1 {
		return &ncerr.ConfigError{Field: "oob-capacity", Value: c.OOBCapacity, Message: "must be positive"}
	}
	if (c.Rows == 0) != (c.Cols == 0) {
		return &ncerr.ConfigError{
			Field: "rows", Value: c.Rows,
			Message: "rows and cols must be set together",
		}
	}

	if c.TunnelEnabled {
		if _, _, err := net.SplitHostPort(c.RelayAddr); err != nil {
			return &ncerr.ConfigError{Field: "relay-addr", Value: c.RelayAddr, Message: err.Error()}
		}
		if c.RelayCommand == "" && c.RelayAuthorizedKeys == "" {
			return &ncerr.ConfigError{
				Field:   "relay-authorized-keys",
				Message: "the embedded relay needs an authorized_keys file",
				Hint:    "set --relay-authorized-keys, or --relay-command to use an external sshd",
			}
		}
	}
	return nil
}
