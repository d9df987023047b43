package messagebus

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// expBackOff yields base*2^n for the n-th retry (n starting at 1), capped at max when max > 0.
// No jitter: the schedule is part of the documented contract.
type expBackOff struct {
	base    time.Duration
	max     time.Duration
	attempt int
}

var _ backoff.BackOff = (*expBackOff)(nil)

func (b *expBackOff) NextBackOff() time.Duration {
	b.attempt++

	d := b.base << b.attempt
	if d <= 0 || (b.max > 0 && d > b.max) {
		d = b.max
	}

	return d
}

func (b *expBackOff) Reset() { b.attempt = 0 }

// elapsedBudget bounds a retry loop generously so that only the attempt count stops it.
func elapsedBudget(attempts int, perAttempt, maxWait time.Duration) time.Duration {
	return time.Duration(attempts+1)*(perAttempt+maxWait) + time.Minute
}

// RetryNotify observes every scheduled retry: the operation, the error that caused it and the wait.
type RetryNotify func(op string, err error, wait time.Duration)
