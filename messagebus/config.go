package messagebus

import "time"

// Config holds the retry and timeout policy. Zero fields fall back to DefaultConfig values.
type Config struct {
	// ReconnectRetries is the number of reconnect retries after a failed connect attempt.
	ReconnectRetries int
	// ReconnectBase scales the reconnect backoff: base * 2^retry (2s, 4s, 8s with base 1s).
	ReconnectBase time.Duration

	// RequestTimeout bounds each request attempt.
	RequestTimeout time.Duration
	// RequestAttempts is the total number of request attempts.
	RequestAttempts int
	// RequestBackoffBase scales the request backoff: min(RequestMaxBackoff, base * 2^attempt).
	RequestBackoffBase time.Duration
	RequestMaxBackoff  time.Duration
}

// DefaultConfig returns the documented policy.
func DefaultConfig() Config {
	return Config{
		ReconnectRetries:   3,
		ReconnectBase:      time.Second,
		RequestTimeout:     120 * time.Second,
		RequestAttempts:    5,
		RequestBackoffBase: time.Second,
		RequestMaxBackoff:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReconnectRetries <= 0 {
		c.ReconnectRetries = d.ReconnectRetries
	}

	if c.ReconnectBase <= 0 {
		c.ReconnectBase = d.ReconnectBase
	}

	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}

	if c.RequestAttempts <= 0 {
		c.RequestAttempts = d.RequestAttempts
	}

	if c.RequestBackoffBase <= 0 {
		c.RequestBackoffBase = d.RequestBackoffBase
	}

	if c.RequestMaxBackoff <= 0 {
		c.RequestMaxBackoff = d.RequestMaxBackoff
	}

	return c
}
