package retry

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTripped is returned (wrapped) by Breaker.Do while calls are being
// refused.
var ErrTripped = errors.New("breaker tripped")

// ── states ───────────────────────────────────────────────────────────

// State is a Breaker's position.
type State int

const (
	// Closed lets every call through.
	Closed State = iota
	// Open refuses calls until the cooldown has passed.
	Open
	// Probing lets exactly one call through to test recovery.
	Probing
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Probing:
		return "probing"
	}
	return "unknown"
}

// ── Breaker ──────────────────────────────────────────────────────────

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the
	// breaker (default 3).
	Threshold int
	// Cooldown is how long an open breaker refuses calls (default 30s).
	Cooldown time.Duration
	// Fatal marks failures that open the breaker at once, such as a
	// relay client binary that does not exist.
	Fatal func(error) bool
	// OnStateChange runs under the breaker's lock on every transition.
	OnStateChange func(from, to State)
}

// Breaker stops repeating an operation that keeps failing.  The server
// runs every tunnel spawn through one so a broken relay client does not
// cost a fork per /tunnel request.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	trippedAt time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Do runs fn unless the breaker is refusing calls.  Once the cooldown
// has passed a single caller probes; concurrent callers are refused
// until that probe reports.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.report(err)
	return err
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the breaker and forgets past failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.moveTo(Closed)
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		left := b.cfg.Cooldown - b.now().Sub(b.trippedAt)
		if left > 0 {
			return fmt.Errorf("%w after %d failures, retry in %v",
				ErrTripped, b.failures, left.Round(time.Second))
		}
		b.moveTo(Probing)
		return nil
	case Probing:
		return fmt.Errorf("%w: recovery probe in flight", ErrTripped)
	}
	return nil
}

func (b *Breaker) report(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		b.moveTo(Closed)
		return
	}
	b.failures++
	fatal := b.cfg.Fatal != nil && b.cfg.Fatal(err)
	if b.state == Probing || fatal || b.failures >= b.cfg.Threshold {
		b.trippedAt = b.now()
		b.moveTo(Open)
	}
}

func (b *Breaker) moveTo(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
