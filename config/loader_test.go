package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ptyd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PTYD_LISTEN_ADDR", "0.0.0.0:9000")
	t.Setenv("PTYD_POLL_INTERVAL", "100ms")
	t.Setenv("PTYD_OOB_CAPACITY", "64")
	t.Setenv("PTYD_CONSOLE_LOCAL_ONLY", "true")
	t.Setenv("PTYD_SHELL_ARGS", "-i,-l")
	t.Setenv("PTYD_ROWS", "30")
	t.Setenv("PTYD_COLS", "100")
	t.Setenv("PTYD_TUNNEL_ENABLED", "1")
	t.Setenv("PTYD_RELAY_AUTHORIZED_KEYS", "/tmp/keys")

	cfg := Default()
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.PollInterval != 100*time.Millisecond {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.OOBCapacity != 64 {
		t.Errorf("OOBCapacity = %d", cfg.OOBCapacity)
	}
	if !cfg.ConsoleLocalOnly || !cfg.TunnelEnabled {
		t.Errorf("ConsoleLocalOnly=%v TunnelEnabled=%v", cfg.ConsoleLocalOnly, cfg.TunnelEnabled)
	}
	if len(cfg.ShellArgs) != 2 || cfg.ShellArgs[0] != "-i" || cfg.ShellArgs[1] != "-l" {
		t.Errorf("ShellArgs = %q", cfg.ShellArgs)
	}
	if cfg.Rows != 30 || cfg.Cols != 100 {
		t.Errorf("size = %dx%d", cfg.Rows, cfg.Cols)
	}
	if cfg.RelayAuthorizedKeys != "/tmp/keys" {
		t.Errorf("RelayAuthorizedKeys = %q", cfg.RelayAuthorizedKeys)
	}

	// Untouched fields keep their defaults.
	if cfg.Shell != DefaultShell || cfg.ReadChunk != DefaultReadChunk {
		t.Errorf("defaults overwritten: shell=%q chunk=%d", cfg.Shell, cfg.ReadChunk)
	}
}

func TestLoadFromEnv_BadValue(t *testing.T) {
	t.Setenv("PTYD_READ_CHUNK", "lots")
	if err := LoadFromEnv(Default()); err == nil {
		t.Fatal("expected error for non-numeric PTYD_READ_CHUNK")
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
listen_addr: ":8080"
shell: /bin/bash
shell_args: ["-l"]
poll_interval: 50ms
console_local: true
tunnel_enabled: true
relay_command: /usr/sbin/sshd -D -p 1138
`)
	cfg := Default()
	if err := LoadFile(cfg, path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.ListenAddr != ":8080" || cfg.Shell != "/bin/bash" {
		t.Errorf("listen=%q shell=%q", cfg.ListenAddr, cfg.Shell)
	}
	if len(cfg.ShellArgs) != 1 || cfg.ShellArgs[0] != "-l" {
		t.Errorf("ShellArgs = %q", cfg.ShellArgs)
	}
	if cfg.PollInterval != 50*time.Millisecond {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if !cfg.ConsoleLocalOnly || !cfg.TunnelEnabled {
		t.Error("booleans not loaded")
	}
	if got := cfg.RelayCommandArgv(); len(got) != 4 {
		t.Errorf("relay argv = %q", got)
	}
	if cfg.OOBCapacity != DefaultOOBCapacity {
		t.Errorf("absent key changed OOBCapacity to %d", cfg.OOBCapacity)
	}
}

func TestLoadFile_UnknownKey(t *testing.T) {
	path := writeFile(t, "listen_adr: \":8080\"\n")
	if err := LoadFile(Default(), path); err == nil {
		t.Fatal("expected error for misspelled key")
	}
}

func TestLoadFile_Empty(t *testing.T) {
	path := writeFile(t, "")
	if err := LoadFile(Default(), path); err != nil {
		t.Fatalf("empty file: %v", err)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if err := LoadFile(Default(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "listen_addr: \":8080\"\nverbose: 2\n")
	t.Setenv("PTYD_LISTEN_ADDR", ":9090")

	cfg := Default()
	if err := Load(cfg, path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, env should win", cfg.ListenAddr)
	}
	if cfg.Verbose != 2 {
		t.Errorf("Verbose = %d, file value lost", cfg.Verbose)
	}
	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile = %q", cfg.ConfigFile)
	}
}

func TestLoad_ConfigFromEnv(t *testing.T) {
	path := writeFile(t, "rows: 40\ncols: 120\n")
	t.Setenv("PTYD_CONFIG", path)

	cfg := Default()
	if err := Load(cfg, ""); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Rows != 40 || cfg.Cols != 120 {
		t.Errorf("size = %dx%d", cfg.Rows, cfg.Cols)
	}
}
