package connection

import "time"

// Config bounds reconnection behaviour.
type Config struct {
	// MaxAttempts is the number of primary-transport attempts before the
	// fallback transport is tried.
	MaxAttempts int
	// InitialBackoff is the delay after the first failed attempt; it doubles
	// after every further failure up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// AuthTimeout bounds one attempt from dial to the authenticated ack.
	AuthTimeout time.Duration
}

// DefaultConfig returns the production reconnection budget.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		AuthTimeout:    10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = d.AuthTimeout
	}
	return c
}

// backoff returns the delay after the given failed attempt (1-based).
func (c Config) backoff(attempt int) time.Duration {
	d := c.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	if d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}
