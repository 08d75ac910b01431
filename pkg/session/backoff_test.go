package session

import (
	"testing"
	"time"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{
		Initial:    10 * time.Millisecond,
		Max:        40 * time.Millisecond,
		Multiplier: 2.0,
		Jitter:     -1,
	})

	want := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		40 * time.Millisecond,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("Next() %d = %v, want %v", i, got, w)
		}
	}
	if b.Attempts() != len(want) {
		t.Errorf("Attempts() = %d, want %d", b.Attempts(), len(want))
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{
		Initial: 10 * time.Millisecond,
		Jitter:  -1,
	})
	b.Next()
	b.Next()
	b.Reset()

	if got := b.Next(); got != 10*time.Millisecond {
		t.Errorf("Next() after Reset = %v, want 10ms", got)
	}
	if b.Attempts() != 1 {
		t.Errorf("Attempts() after Reset = %d, want 1", b.Attempts())
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{
		Initial:    100 * time.Millisecond,
		Max:        100 * time.Millisecond,
		Multiplier: 2.0,
		Jitter:     0.25,
	})

	for i := 0; i < 50; i++ {
		d := b.Next()
		if d < 100*time.Millisecond || d > 125*time.Millisecond {
			t.Fatalf("jittered delay %v outside [100ms, 125ms]", d)
		}
	}
}

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoff()
	d := b.Next()
	if d < InitialRetryDelay {
		t.Errorf("first delay %v below initial %v", d, InitialRetryDelay)
	}
	limit := InitialRetryDelay + time.Duration(float64(InitialRetryDelay)*RetryJitter)
	if d > limit {
		t.Errorf("first delay %v above jitter limit %v", d, limit)
	}
}
