// Package retry holds the two failure policies ptyd applies to the relay:
// the nc client backs off while the relay listener comes up, and the
// server stops forking tunnel children once the relay client keeps
// failing to start.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Backoff retries an operation with exponentially growing waits.
// Zero fields fall back to DialBackoff's values.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// MaxAttempts counts the first try; 0 retries until ctx ends.
	MaxAttempts int
	// Jitter spreads each wait by up to ±25%.
	Jitter bool

	// Retryable filters failures worth repeating.  Nil retries all.
	Retryable func(error) bool
	// OnRetry runs before each wait with the 1-based failed attempt.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DialBackoff suits a local listener that may still be starting: the
// first retry comes after 100ms and waits stay under two seconds.
func DialBackoff(attempts int) *Backoff {
	return &Backoff{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2,
		MaxAttempts:  attempts,
		Jitter:       true,
	}
}

// Do calls fn until it returns nil, returns an error Retryable rejects,
// runs out of attempts, or ctx ends.  attempt is 1-based.
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	wait := b.InitialDelay
	if wait <= 0 {
		wait = 100 * time.Millisecond
	}

	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if b.Retryable != nil && !b.Retryable(err) {
			return err
		}
		if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}

		d := wait
		if b.Jitter {
			d = jitter(d)
		}
		if b.OnRetry != nil {
			b.OnRetry(attempt, err, d)
		}

		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("retry cancelled after %d attempts: %w", attempt, ctx.Err())
		case <-t.C:
		}
		wait = b.grow(wait)
	}
}

func (b *Backoff) grow(d time.Duration) time.Duration {
	mult := b.Multiplier
	if mult < 1 {
		mult = 2
	}
	ceiling := b.MaxDelay
	if ceiling <= 0 {
		ceiling = 2 * time.Second
	}
	next := time.Duration(float64(d) * mult)
	if next > ceiling {
		return ceiling
	}
	return next
}

// jitter returns d shifted by a random amount within ±25%, never below
// one millisecond.
func jitter(d time.Duration) time.Duration {
	spread := int64(d) / 2
	if spread <= 0 {
		return d
	}
	j := d + time.Duration(rand.Int63n(spread+1)-spread/2)
	if j < time.Millisecond {
		return time.Millisecond
	}
	return j
}
