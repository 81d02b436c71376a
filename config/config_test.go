package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	ncerr "ptyd/internal/errors"
)

// ── ParsePort / ParseTarget ──────────────────────────────────────────

func TestParsePort(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"22", 22, false},
		{"1138", 1138, false},
		{"65535", 65535, false},
		{"0", 0, true},
		{"65536", 0, true},
		{"ssh", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePort(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePort(%q) error = %v, wantErr = %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		args    []string
		want    string
		wantErr bool
	}{
		{[]string{"localhost", "1138"}, "localhost:1138", false},
		{[]string{"::1", "22"}, "[::1]:22", false},
		{[]string{"ws://device:8073/tunnel"}, "ws://device:8073/tunnel", false},
		{[]string{"wss://device/tunnel"}, "wss://device/tunnel", false},
		{[]string{"http://device/tunnel"}, "", true},
		{[]string{"localhost", "x"}, "", true},
		{nil, "", true},
		{[]string{"a", "1", "b"}, "", true},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			got, err := ParseTarget(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr = %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

// ── Config.Validate ──────────────────────────────────────────────────

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if got := strings.Join(cfg.ShellArgv(), " "); got != "/bin/sh --login" {
		t.Errorf("ShellArgv = %q", got)
	}
	if cfg.PollInterval != 250*time.Millisecond || cfg.ReadChunk != 1024 {
		t.Errorf("poll=%v chunk=%d", cfg.PollInterval, cfg.ReadChunk)
	}
	if cfg.TunnelEnabled {
		t.Error("tunnel must be disabled by default")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string // empty: valid
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad listen", func(c *Config) { c.ListenAddr = "8073" }, "listen"},
		{"no shell", func(c *Config) { c.Shell = "" }, "shell"},
		{"poll too fast", func(c *Config) { c.PollInterval = 0 }, "poll-interval"},
		{"poll too slow", func(c *Config) { c.PollInterval = time.Minute }, "poll-interval"},
		{"chunk too small", func(c *Config) { c.ReadChunk = 4 }, "read-chunk"},
		{"chunk too large", func(c *Config) { c.ReadChunk = MaxReadChunk + 1 }, "read-chunk"},
		{"no oob", func(c *Config) { c.OOBCapacity = 0 }, "oob-capacity"},
		{"rows without cols", func(c *Config) { c.Rows = 24 }, "rows"},
		{"rows and cols", func(c *Config) { c.Rows, c.Cols = 24, 80 }, ""},
		{"tunnel without keys", func(c *Config) { c.TunnelEnabled = true }, "relay-authorized-keys"},
		{"tunnel with keys", func(c *Config) {
			c.TunnelEnabled = true
			c.RelayAuthorizedKeys = "/etc/ptyd/authorized_keys"
		}, ""},
		{"tunnel with external relay", func(c *Config) {
			c.TunnelEnabled = true
			c.RelayCommand = "/usr/sbin/sshd -D -p 1138"
		}, ""},
		{"tunnel bad relay addr", func(c *Config) {
			c.TunnelEnabled = true
			c.RelayCommand = "sshd"
			c.RelayAddr = "nowhere"
		}, "relay-addr"},
		{"attach ok", func(c *Config) {
			c.Mode = ModeAttach
			c.AttachURL = "ws://device:8073/admin"
		}, ""},
		{"attach http", func(c *Config) {
			c.Mode = ModeAttach
			c.AttachURL = "http://device/admin"
		}, "attach"},
		{"nc without target", func(c *Config) { c.Mode = ModeNC }, "nc"},
		{"nc ignores server fields", func(c *Config) {
			c.Mode = ModeNC
			c.Target = "localhost:1138"
			c.Shell = ""
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ce *ncerr.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want *ConfigError", err)
			}
			if ce.Field != tt.wantField {
				t.Errorf("field = %q, want %q", ce.Field, tt.wantField)
			}
		})
	}
}

func TestValidate_Hint(t *testing.T) {
	cfg := Default()
	cfg.TunnelEnabled = true
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "hint:") {
		t.Errorf("error %v should carry a hint", err)
	}
}

func TestRelayCommandArgv(t *testing.T) {
	cfg := &Config{RelayCommand: "  /usr/sbin/sshd  -D -p 1138 "}
	got := cfg.RelayCommandArgv()
	if strings.Join(got, "|") != "/usr/sbin/sshd|-D|-p|1138" {
		t.Errorf("argv = %q", got)
	}
}

func TestModeString(t *testing.T) {
	for m, want := range map[Mode]string{ModeServe: "serve", ModeAttach: "attach", ModeNC: "nc", Mode(7): "Mode(7)"} {
		if m.String() != want {
			t.Errorf("%d: got %q, want %q", int(m), m.String(), want)
		}
	}
}
