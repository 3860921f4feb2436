package render

import (
	"time"

	"github.com/wudi/texkit/observability"
)

// Config holds renderer settings.
type Config struct {
	// MaxAttempts bounds the captures taken while waiting for output to
	// stabilize. Values below 2 still capture once.
	MaxAttempts int
	// Backoff is the pause between captures that disagree.
	Backoff time.Duration
	// Memoize skips the engine when params repeat the last success.
	Memoize bool

	Logger observability.Logger
	Tracer observability.Tracer
}

// DefaultConfig returns the settings used when no options are given.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 10,
		Backoff:     20 * time.Millisecond,
		Memoize:     true,
		Logger:      observability.NopLogger{},
		Tracer:      observability.NopTracer(),
	}
}

// Option configures a Renderer.
type Option func(*Config)

// WithConfig replaces every setting. Nil Logger and Tracer fall back to
// no-ops.
func WithConfig(cfg Config) Option {
	return func(c *Config) { *c = cfg }
}

func WithMaxAttempts(n int) Option {
	return func(c *Config) { c.MaxAttempts = n }
}

func WithBackoff(d time.Duration) Option {
	return func(c *Config) { c.Backoff = d }
}

func WithMemoize(enabled bool) Option {
	return func(c *Config) { c.Memoize = enabled }
}

func WithLogger(l observability.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func WithTracer(t observability.Tracer) Option {
	return func(c *Config) { c.Tracer = t }
}

func (c *Config) normalize() {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.Backoff < 0 {
		c.Backoff = 0
	}
	if c.Logger == nil {
		c.Logger = observability.NopLogger{}
	}
	if c.Tracer == nil {
		c.Tracer = observability.NopTracer()
	}
}
