package retry

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

var errSpawn = errors.New("spawn relay-client: fork: resource temporarily unavailable")

// newClockedBreaker returns a breaker whose clock the test advances.
func newClockedBreaker(cfg BreakerConfig) (*Breaker, *time.Time) {
	b := NewBreaker(cfg)
	now := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return now }
	return b, &now
}

func fail() error    { return errSpawn }
func succeed() error { return nil }

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newClockedBreaker(BreakerConfig{Threshold: 3, Cooldown: time.Minute})

	for i := 0; i < 2; i++ {
		b.Do(fail) //nolint:errcheck
	}
	if b.State() != Closed {
		t.Fatalf("state = %s after 2 failures, want closed", b.State())
	}
	b.Do(fail) //nolint:errcheck
	if b.State() != Open || b.Failures() != 3 {
		t.Fatalf("state = %s failures = %d, want open/3", b.State(), b.Failures())
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrTripped) {
		t.Fatalf("err = %v, want ErrTripped", err)
	}
	if called {
		t.Error("fn ran while the breaker was open")
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newClockedBreaker(BreakerConfig{Threshold: 3})
	b.Do(fail)    //nolint:errcheck
	b.Do(fail)    //nolint:errcheck
	b.Do(succeed) //nolint:errcheck
	b.Do(fail)    //nolint:errcheck
	if b.State() != Closed || b.Failures() != 1 {
		t.Errorf("state = %s failures = %d, want closed/1", b.State(), b.Failures())
	}
}

func TestBreaker_ProbeAfterCooldown(t *testing.T) {
	tests := []struct {
		name  string
		probe func() error
		want  State
	}{
		{"probe succeeds", succeed, Closed},
		{"probe fails", fail, Open},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, now := newClockedBreaker(BreakerConfig{Threshold: 1, Cooldown: 10 * time.Second})
			b.Do(fail) //nolint:errcheck

			*now = now.Add(5 * time.Second)
			if err := b.Do(succeed); !errors.Is(err, ErrTripped) {
				t.Fatalf("call inside cooldown: err = %v", err)
			}

			*now = now.Add(6 * time.Second)
			b.Do(tt.probe) //nolint:errcheck
			if b.State() != tt.want {
				t.Errorf("state = %s, want %s", b.State(), tt.want)
			}
		})
	}
}

func TestBreaker_SingleProbe(t *testing.T) {
	b, now := newClockedBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Second})
	b.Do(fail) //nolint:errcheck
	*now = now.Add(2 * time.Second)

	var inner error
	err := b.Do(func() error {
		if b.State() != Probing {
			t.Errorf("state during probe = %s", b.State())
		}
		inner = b.Do(succeed)
		return nil
	})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !errors.Is(inner, ErrTripped) {
		t.Errorf("concurrent call during probe: err = %v, want ErrTripped", inner)
	}
	if b.State() != Closed {
		t.Errorf("state = %s, want closed", b.State())
	}
}

func TestBreaker_Fatal(t *testing.T) {
	missing := errors.New("executable file not found")
	b, _ := newClockedBreaker(BreakerConfig{
		Threshold: 5,
		Fatal:     func(err error) bool { return errors.Is(err, missing) },
	})
	b.Do(fail) //nolint:errcheck
	if b.State() != Closed {
		t.Fatalf("ordinary failure opened the breaker")
	}
	b.Do(func() error { return fmt.Errorf("relay: %w", missing) }) //nolint:errcheck
	if b.State() != Open {
		t.Errorf("state = %s, want open after a fatal failure", b.State())
	}
}

func TestBreaker_StateChangeAndReset(t *testing.T) {
	var moves []string
	b, _ := newClockedBreaker(BreakerConfig{
		Threshold:     1,
		OnStateChange: func(from, to State) { moves = append(moves, from.String()+">"+to.String()) },
	})
	b.Do(fail) //nolint:errcheck
	b.Reset()
	if b.State() != Closed || b.Failures() != 0 {
		t.Errorf("after reset: state = %s failures = %d", b.State(), b.Failures())
	}
	want := []string{"closed>open", "open>closed"}
	if fmt.Sprint(moves) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", moves, want)
	}
}

func TestBreaker_Defaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{})
	if b.cfg.Threshold != 3 || b.cfg.Cooldown != 30*time.Second {
		t.Errorf("defaults = %+v", b.cfg)
	}
	if State(42).String() != "unknown" {
		t.Error("unexpected name for an invalid state")
	}
}
