package tunnel

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"ptyd/internal/metrics"
	"ptyd/internal/spawn"
)

type relayFixture struct {
	relay   *Relay
	host    ssh.Signer
	keyring agent.Agent
	metrics *metrics.Collector
}

func startRelay(t *testing.T) *relayFixture {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	priv, pub := newKey(t)
	keys := filepath.Join(t.TempDir(), "authorized_keys")
	writeAuthorizedKeys(t, keys, pub)
	ak, err := LoadAuthorizedKeys(keys)
	if err != nil {
		t.Fatal(err)
	}
	host, err := LoadHostKey("")
	if err != nil {
		t.Fatal(err)
	}

	keyring := agent.NewKeyring()
	if err := keyring.Add(agent.AddedKey{PrivateKey: priv}); err != nil {
		t.Fatal(err)
	}

	m := metrics.New()
	r, err := NewRelay(RelayConfig{
		Addr:       "127.0.0.1:0",
		HostKey:    host,
		Authorized: ak,
		Shell:      spawn.Spec{Path: sh},
		Reaper:     runningReaper(t),
		Metrics:    m,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Listen(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("relay did not stop")
		}
	})
	return &relayFixture{relay: r, host: host, keyring: keyring, metrics: m}
}

func (f *relayFixture) dial(t *testing.T, auth ssh.AuthMethod) (*ssh.Client, error) {
	t.Helper()
	return ssh.Dial("tcp", f.relay.Addr(), &ssh.ClientConfig{
		User:            "admin",
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.FixedHostKey(f.host.PublicKey()),
		Timeout:         3 * time.Second,
	})
}

func (f *relayFixture) client(t *testing.T) *ssh.Client {
	t.Helper()
	c, err := f.dial(t, ssh.PublicKeysCallback(f.keyring.Signers))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRelay_Exec(t *testing.T) {
	f := startRelay(t)
	sess, err := f.client(t).NewSession()
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	out, err := sess.Output("echo relay-$((40+2))")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if !strings.Contains(string(out), "relay-42") {
		t.Errorf("output = %q, want relay-42", out)
	}
}

func TestRelay_ExitStatus(t *testing.T) {
	f := startRelay(t)
	sess, err := f.client(t).NewSession()
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	err = sess.Run("exit 3")
	var exitErr *ssh.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want *ssh.ExitError", err)
	}
	if exitErr.ExitStatus() != 3 {
		t.Errorf("exit status = %d, want 3", exitErr.ExitStatus())
	}
}

func TestRelay_PtyShell(t *testing.T) {
	f := startRelay(t)
	sess, err := f.client(t).NewSession()
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	if err := sess.RequestPty("xterm", 30, 100, ssh.TerminalModes{ssh.ECHO: 0}); err != nil {
		t.Fatal(err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		t.Fatal(err)
	}
	var out strings.Builder
	sess.Stdout = &out
	if err := sess.Shell(); err != nil {
		t.Fatal(err)
	}
	if err := sess.WindowChange(40, 120); err != nil {
		t.Fatal(err)
	}

	stdin.Write([]byte("stty size; exit\n")) //nolint:errcheck

	waitCh := make(chan error, 1)
	go func() { waitCh <- sess.Wait() }()
	select {
	case <-waitCh:
	case <-time.After(5 * time.Second):
		t.Fatal("shell did not exit")
	}
	if !strings.Contains(out.String(), "40 120") {
		t.Errorf("stty size output = %q, want 40 120", out.String())
	}
	if f.metrics.TotalSessions() == 0 {
		t.Error("session not counted")
	}
}

func TestRelay_RejectsUnknownKey(t *testing.T) {
	f := startRelay(t)
	stranger, _ := newKey(t)
	signer, err := ssh.NewSignerFromKey(stranger)
	if err != nil {
		t.Fatal(err)
	}
	if c, err := f.dial(t, ssh.PublicKeys(signer)); err == nil {
		c.Close()
		t.Fatal("unknown key was accepted")
	}
}

func TestRelay_RejectsForwarding(t *testing.T) {
	f := startRelay(t)
	_, _, err := f.client(t).OpenChannel("direct-tcpip", nil)
	var oce *ssh.OpenChannelError
	if !errors.As(err, &oce) {
		t.Fatalf("err = %v, want *ssh.OpenChannelError", err)
	}
	if oce.Reason != ssh.UnknownChannelType {
		t.Errorf("reason = %v, want UnknownChannelType", oce.Reason)
	}
}

func TestNewRelay_Validation(t *testing.T) {
	if _, err := NewRelay(RelayConfig{}); err == nil {
		t.Error("missing host key should fail")
	}
	host, _ := LoadHostKey("")
	if _, err := NewRelay(RelayConfig{HostKey: host}); err == nil {
		t.Error("missing authorized keys should fail")
	}
}
