package core

import (
	"os"
	"testing"

	"ptyd/config"
	"ptyd/internal/transport"
	"ptyd/util"
)

// TestBuild_Serve verifies that the default configuration serves.
func TestBuild_Serve(t *testing.T) {
	cfg := config.Default()
	mode, err := Build(cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	sm, ok := mode.(*ServeMode)
	if !ok {
		t.Fatalf("expected *ServeMode, got %T", mode)
	}
	if sm.Server.Addr != config.DefaultListenAddr {
		t.Errorf("addr = %q", sm.Server.Addr)
	}
	if sm.Server.Console.Shell.Path != config.DefaultShell {
		t.Errorf("shell = %q", sm.Server.Console.Shell.Path)
	}
	if sm.Server.Console.Reaper == nil || sm.Server.Console.Metrics == nil {
		t.Error("reaper and metrics must be shared from the builder")
	}
	if sm.Server.Policy.NoConsoleFile != config.DefaultNoConsoleFile {
		t.Errorf("policy file = %q", sm.Server.Policy.NoConsoleFile)
	}
	if sm.Relay != nil || sm.Server.Tunnel != nil {
		t.Error("tunnels should be off by default")
	}
}

// TestBuild_ServeWithTunnel verifies the relay client defaults to this
// executable in nc mode.
func TestBuild_ServeWithTunnel(t *testing.T) {
	cfg := config.Default()
	cfg.TunnelEnabled = true
	cfg.RelayAuthorizedKeys = "/etc/ptyd/authorized_keys"

	mode, err := Build(cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	sm := mode.(*ServeMode)
	if sm.Server.Tunnel == nil || sm.Relay == nil {
		t.Fatal("tunnel not configured")
	}
	self, _ := os.Executable()
	if sm.Server.Tunnel.Path != self {
		t.Errorf("client = %q, want %q", sm.Server.Tunnel.Path, self)
	}
	if args := sm.Server.Tunnel.Args; len(args) != 3 || args[0] != "nc" {
		t.Errorf("client args = %v", args)
	}
	if sm.Relay.AuthorizedKeys != cfg.RelayAuthorizedKeys || len(sm.Relay.Command) != 0 {
		t.Errorf("relay = %+v", sm.Relay)
	}
}

// TestBuild_ServeExternalRelay verifies that a relay command is split.
func TestBuild_ServeExternalRelay(t *testing.T) {
	cfg := config.Default()
	cfg.TunnelEnabled = true
	cfg.RelayCommand = "/usr/sbin/sshd -D -p 1138"
	cfg.RelayClient = "/bin/nc"

	mode, err := Build(cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	sm := mode.(*ServeMode)
	if len(sm.Relay.Command) != 4 || sm.Relay.Command[0] != "/usr/sbin/sshd" {
		t.Errorf("command = %v", sm.Relay.Command)
	}
	if sm.Server.Tunnel.Path != "/bin/nc" {
		t.Errorf("client = %q", sm.Server.Tunnel.Path)
	}
}

// TestBuild_Attach verifies Build produces an AttachMode.
func TestBuild_Attach(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeAttach
	cfg.AttachURL = "ws://device:8073/admin"

	mode, err := Build(cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	am, ok := mode.(*AttachMode)
	if !ok {
		t.Fatalf("expected *AttachMode, got %T", mode)
	}
	if am.URL != cfg.AttachURL {
		t.Errorf("url = %q", am.URL)
	}
}

// TestBuild_Connect verifies the nc dialer follows the target form.
func TestBuild_Connect(t *testing.T) {
	tests := []struct {
		target  string
		retries int
		ws      bool
	}{
		{"127.0.0.1:1138", 5, false},
		{"ws://device:8073/tunnel", 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			cfg := config.Default()
			cfg.Mode = config.ModeNC
			cfg.Target = tt.target
			cfg.DialRetries = tt.retries

			mode, err := Build(cfg, util.NewLogger(0))
			if err != nil {
				t.Fatal(err)
			}
			cm, ok := mode.(*ConnectMode)
			if !ok {
				t.Fatalf("expected *ConnectMode, got %T", mode)
			}
			if _, isWS := cm.Dialer.(*transport.WebSocketDialer); isWS != tt.ws {
				t.Errorf("dialer = %T", cm.Dialer)
			}
			if (cm.Backoff != nil) != (tt.retries > 1) {
				t.Errorf("backoff = %v with %d retries", cm.Backoff, tt.retries)
			}
		})
	}
}
