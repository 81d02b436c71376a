package admin

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	ncerr "ptyd/internal/errors"
)

func TestPolicy_Check(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "opt.no_console")
	if err := os.WriteFile(present, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	absent := filepath.Join(dir, "missing")

	tests := []struct {
		name       string
		policy     Policy
		local      bool
		wantNotice string
	}{
		{"open to all", Policy{}, false, ""},
		{"flag file absent", Policy{NoConsoleFile: absent}, false, ""},
		{"flag file present", Policy{NoConsoleFile: present}, true,
			"CONSOLE: disabled because " + filepath.Base(dir) + "/opt.no_console file exists\n"},
		{"local only, local peer", Policy{LocalOnly: true}, true, ""},
		{"local only, remote peer", Policy{LocalOnly: true}, false, MsgLocalOnly},
		{"flag file wins over local", Policy{NoConsoleFile: present, LocalOnly: true}, false,
			"CONSOLE: disabled because " + filepath.Base(dir) + "/opt.no_console file exists\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notice, err := tt.policy.Check(tt.local)
			if notice != tt.wantNotice {
				t.Errorf("notice = %q, want %q", notice, tt.wantNotice)
			}
			if tt.wantNotice == "" && err != nil {
				t.Errorf("unexpected error %v", err)
			}
			if tt.wantNotice != "" && !errors.Is(err, ncerr.ErrConsoleDisabled) {
				t.Errorf("err = %v, want ErrConsoleDisabled", err)
			}
		})
	}
}
