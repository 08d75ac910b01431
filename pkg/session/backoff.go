package session

import (
	"math/rand"
	"sync"
	"time"
)

// Resend pacing defaults. A dropped ack is retried quickly at first,
// then at a widening interval so a wedged device is not flooded.
const (
	// InitialRetryDelay is the wait before the first resend.
	InitialRetryDelay = 50 * time.Millisecond

	// MaxRetryDelay caps the wait between resends.
	MaxRetryDelay = 500 * time.Millisecond

	// RetryMultiplier grows the wait after each resend.
	RetryMultiplier = 2.0

	// RetryJitter is the random spread added to each wait, as a
	// fraction of the base.
	RetryJitter = 0.25
)

// BackoffConfig tunes resend pacing. Zero fields take the package
// defaults; a negative Jitter disables jitter.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = InitialRetryDelay
	}
	if c.Max <= 0 {
		c.Max = MaxRetryDelay
	}
	if c.Multiplier <= 1 {
		c.Multiplier = RetryMultiplier
	}
	switch {
	case c.Jitter == 0:
		c.Jitter = RetryJitter
	case c.Jitter < 0:
		c.Jitter = 0
	}
	return c
}

// Backoff hands out the waits between resends of a single command.
// The wait grows by Multiplier on every call to Next until it reaches
// Max; Reset starts the schedule over once the device answers. Safe
// for concurrent use.
type Backoff struct {
	mu       sync.Mutex
	cfg      BackoffConfig
	wait     time.Duration
	attempts int
	rng      *rand.Rand
}

// NewBackoff returns a Backoff using the package defaults.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(BackoffConfig{})
}

// NewBackoffWithConfig returns a Backoff paced by cfg.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	cfg = cfg.withDefaults()
	return &Backoff{
		cfg:  cfg,
		wait: cfg.Initial,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the wait before the upcoming resend and advances the
// schedule.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.wait
	if b.cfg.Jitter > 0 {
		d += time.Duration(b.cfg.Jitter * b.rng.Float64() * float64(d))
	}

	b.wait = min(time.Duration(float64(b.wait)*b.cfg.Multiplier), b.cfg.Max)
	b.attempts++
	return d
}

// Reset returns the schedule to its initial wait, for reuse after a
// successful exchange.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wait = b.cfg.Initial
	b.attempts = 0
}

// Attempts reports how many waits were handed out since the last
// reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
