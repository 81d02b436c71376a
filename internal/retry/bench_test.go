package retry

import (
	"context"
	"testing"
	"time"
)

func BenchmarkBackoff_FirstTry(b *testing.B) {
	bo := DialBackoff(5)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bo.Do(ctx, func(int) error { return nil }) //nolint:errcheck
	}
}

func BenchmarkBreaker_Closed(b *testing.B) {
	br := NewBreaker(BreakerConfig{})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		br.Do(succeed) //nolint:errcheck
	}
}

// BenchmarkBreaker_Refusing measures the cost of turning a call away.
func BenchmarkBreaker_Refusing(b *testing.B) {
	br := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Hour})
	br.Do(fail) //nolint:errcheck
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		br.Do(succeed) //nolint:errcheck
	}
}

func BenchmarkJitter(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = jitter(100 * time.Millisecond)
	}
}
