package bus

import "time"

// Timeoutable lets a request contract override the per-attempt request timeout.
type Timeoutable interface {
	Timeout() time.Duration
}

// Retryable lets a request contract override the number of request attempts (tries).
type Retryable interface {
	Tries() int
}
