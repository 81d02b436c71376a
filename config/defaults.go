package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultListenAddr is where the admin server listens.
	DefaultListenAddr = "127.0.0.1:8073"

	// DefaultShell is the program run for a console session.
	DefaultShell = "/bin/sh"

	// DefaultPollInterval is the console loop period.  Queued keys cut
	// it short.
	DefaultPollInterval = 250 * time.Millisecond

	// DefaultReadChunk is the largest pty read forwarded as one message.
	DefaultReadChunk = 1024

	// MaxReadChunk bounds ReadChunk to the pooled buffer size.
	MaxReadChunk = 32 * 1024

	// DefaultOOBCapacity is the out-of-band key queue size.
	DefaultOOBCapacity = 256

	// DefaultNoConsoleFile disables the console while it exists.
	DefaultNoConsoleFile = "/etc/ptyd/opt.no_console"

	// DefaultReapInterval is the fallback zombie sweep period.
	DefaultReapInterval = time.Second

	// DefaultRelayAddr is the local SSH relay listener.
	DefaultRelayAddr = "127.0.0.1:1138"

	// DefaultConnTimeout is the dial timeout of the client modes.
	DefaultConnTimeout = 30 * time.Second

	// DefaultDialRetries is how often nc retries while the relay starts.
	DefaultDialRetries = 5

	// DefaultShutdownTimeout is how long the server waits for
	// connections to drain on shutdown.
	DefaultShutdownTimeout = 5 * time.Second
)

// Default returns a Config populated with the defaults above.
func Default() *Config {
	return &Config{
		ListenAddr:      DefaultListenAddr,
		ShutdownTimeout: DefaultShutdownTimeout,
		Shell:           DefaultShell,
		ShellArgs:       []string{"--login"},
		PollInterval:    DefaultPollInterval,
		ReadChunk:       DefaultReadChunk,
		OOBCapacity:     DefaultOOBCapacity,
		NoConsoleFile:   DefaultNoConsoleFile,
		ReapInterval:    DefaultReapInterval,
		RelayAddr:       DefaultRelayAddr,
		Timeout:         DefaultConnTimeout,
		DialRetries:     DefaultDialRetries,
		Verbose:         1,
	}
}
