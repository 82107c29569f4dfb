package connection

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Default backoff parameters. They suit a register bus on a local network:
// short first retries, bounded well below operator patience.
const (
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultMaxBackoff     = 10 * time.Second
	DefaultMultiplier     = 2.0
	DefaultJitter         = 0.25
)

// BackoffConfig configures exponential backoff. Zero fields take defaults.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`

	// Jitter adds up to Jitter*delay of random extra wait. Negative
	// disables jitter.
	Jitter float64 `yaml:"jitter"`

	// Seed fixes the jitter source. Zero seeds from the clock.
	Seed int64 `yaml:"-"`
}

// DefaultBackoffConfig returns the default backoff parameters.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    DefaultInitialBackoff,
		Max:        DefaultMaxBackoff,
		Multiplier: DefaultMultiplier,
		Jitter:     DefaultJitter,
	}
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = DefaultInitialBackoff
	}
	if c.Max <= 0 {
		c.Max = DefaultMaxBackoff
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Multiplier <= 1 {
		c.Multiplier = DefaultMultiplier
	}
	if c.Jitter == 0 {
		c.Jitter = DefaultJitter
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

// Delay returns the un-jittered delay before retry n (0-based):
// Initial * Multiplier^n, capped at Max.
func (c BackoffConfig) Delay(n int) time.Duration {
	c = c.withDefaults()
	d := float64(c.Initial) * math.Pow(c.Multiplier, float64(n))
	if d >= float64(c.Max) || math.IsInf(d, 0) {
		return c.Max
	}
	return time.Duration(d)
}

// Backoff produces successive jittered delays.
type Backoff struct {
	mu       sync.Mutex
	cfg      BackoffConfig
	attempts int
	rng      *rand.Rand
}

// NewBackoff returns a backoff at its first step.
func NewBackoff(cfg BackoffConfig) *Backoff {
	cfg = cfg.withDefaults()
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Backoff{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Next returns the next jittered delay and advances.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.cfg.Delay(b.attempts)
	b.attempts++
	if b.cfg.Jitter > 0 {
		d += time.Duration(float64(d) * b.cfg.Jitter * b.rng.Float64())
	}
	return d
}

// Current returns the base delay Next will jitter.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.Delay(b.attempts)
}

// Attempts returns the number of Next calls since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Reset returns to the initial delay. Call after a success.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = 0
}
