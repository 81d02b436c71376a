package core

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ptyd/internal/console"
	"ptyd/internal/transport"
	"ptyd/util"
)

// fakeConsole is an admin endpoint that records commands and answers a
// scripted subset.
type fakeConsole struct {
	mu   sync.Mutex
	cmds []string
}

func (f *fakeConsole) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cmds...)
}

func (f *fakeConsole) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mc, err := transport.AcceptMessageConn(w, r, nil)
	if err != nil {
		return
	}
	defer mc.Close()
	for {
		cmd, ok, err := mc.ReadCommand(r.Context())
		if err != nil {
			return
		}
		if !ok {
			continue
		}
		f.mu.Lock()
		f.cmds = append(f.cmds, cmd)
		f.mu.Unlock()

		switch {
		case cmd == "console_open":
			mc.Emit(console.TagOutput, console.MsgOpen) //nolint:errcheck
		case cmd == "console_w2c=exit%0A":
			mc.Emit(console.TagOutput, "logout\r\n")      //nolint:errcheck
			mc.Emit(console.TagOutput, console.MsgExited) //nolint:errcheck
			mc.Emit(console.TagDone, "")                  //nolint:errcheck
		}
	}
}

func startFakeConsole(t *testing.T) (*fakeConsole, string) {
	t.Helper()
	fc := &fakeConsole{}
	ts := httptest.NewServer(fc)
	t.Cleanup(ts.Close)
	return fc, "ws" + strings.TrimPrefix(ts.URL, "http") + "/admin"
}

func TestAttachMode_Session(t *testing.T) {
	fc, url := startFakeConsole(t)

	pr, pw := io.Pipe()
	defer pw.Close()
	go func() {
		pw.Write([]byte{0x03}) //nolint:errcheck
		time.Sleep(50 * time.Millisecond)
		pw.Write([]byte("exit\n")) //nolint:errcheck
	}()

	var out bytes.Buffer
	mode := &AttachMode{
		URL:    url,
		Logger: util.NewLogger(0),
		Stdin:  pr,
		Stdout: &out,
		Size:   func() (int, int, error) { return 24, 80, nil },
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mode.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := console.MsgOpen + "logout\r\n" + console.MsgExited
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}

	cmds := fc.commands()
	wantCmds := []string{"console_open", "console_rows_cols=24,80", "console_oob_key=3", "console_w2c=exit%0A"}
	if len(cmds) != len(wantCmds) {
		t.Fatalf("commands = %q, want %q", cmds, wantCmds)
	}
	for i := range wantCmds {
		if cmds[i] != wantCmds[i] {
			t.Errorf("command %d = %q, want %q", i, cmds[i], wantCmds[i])
		}
	}
}

func TestAttachMode_Detach(t *testing.T) {
	fc, url := startFakeConsole(t)

	mode := &AttachMode{
		URL:    url,
		Logger: util.NewLogger(0),
		Stdin:  strings.NewReader("ls\x1dignored"),
		Stdout: io.Discard,
		Size:   func() (int, int, error) { return 0, 0, io.EOF },
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mode.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(fc.commands()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cmds := fc.commands()
	if len(cmds) != 2 || cmds[0] != "console_open" || cmds[1] != "console_w2c=ls" {
		t.Errorf("commands = %q, want open then ls only", cmds)
	}
}

func TestAttachMode_DialFailure(t *testing.T) {
	mode := &AttachMode{
		URL:    "ws://127.0.0.1:1/admin",
		Logger: util.NewLogger(0),
		Stdin:  strings.NewReader(""),
		Stdout: io.Discard,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := mode.Run(ctx); err == nil {
		t.Fatal("expected dial error")
	}
}
