package crawler

import (
	"errors"
	"net/http"
	"time"
)

// Config tunes the engine. Zero values pick the defaults below.
type Config struct {
	Concurrency int
	// Delay and Jitter throttle every target: each one waits Delay plus a
	// random duration in [0, Jitter) before rendering.
	Delay  time.Duration
	Jitter time.Duration
	// RenderTimeout bounds one render call.
	RenderTimeout time.Duration
	// FallbackConcurrency caps speculative track guesses in flight.
	FallbackConcurrency int
	// FallbackQuota stops speculative guesses for a date after this many
	// successes. Zero means unlimited.
	FallbackQuota int
	// MaxPages caps the pages rendered along one pagination branch, counted
	// from the page the branch started on. Zero means unlimited.
	MaxPages int
	// DefaultWait applies to rendered targets that leave WaitTimeMS at zero.
	DefaultWait  time.Duration
	ExtraHeaders http.Header
}

const (
	defaultConcurrency         = 4
	defaultRenderTimeout       = 60 * time.Second
	defaultFallbackConcurrency = 4
	defaultWait                = 2 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = defaultRenderTimeout
	}
	if c.FallbackConcurrency <= 0 {
		c.FallbackConcurrency = defaultFallbackConcurrency
	}
	if c.DefaultWait <= 0 {
		c.DefaultWait = defaultWait
	}
	return c
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	switch {
	case c.Delay < 0:
		return errors.New("delay must be >= 0")
	case c.Jitter < 0:
		return errors.New("jitter must be >= 0")
	case c.FallbackQuota < 0:
		return errors.New("fallback quota must be >= 0")
	case c.MaxPages < 0:
		return errors.New("max pages must be >= 0")
	}
	return nil
}
