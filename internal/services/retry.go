package services

import (
	"context"
	"time"
)

const (
	defaultRetryAttempts       = 3
	defaultRetryInitialBackoff = time.Second
	defaultRetryMaxBackoff     = 5 * time.Second
)

// RetryPolicy bounds local retries of transient failures.
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy returns three attempts backing off from 1s up to 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:       defaultRetryAttempts,
		InitialBackoff: defaultRetryInitialBackoff,
		MaxBackoff:     defaultRetryMaxBackoff,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = defaultRetryAttempts
	}
	if p.InitialBackoff < 0 {
		p.InitialBackoff = 0
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// Retry runs op until it succeeds, returns a non-transient error, or the
// attempt budget is exhausted. The last error is returned unchanged.
func Retry(ctx context.Context, policy RetryPolicy, op func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	policy = policy.normalized()
	delay := policy.InitialBackoff
	var lastErr error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) || attempt == policy.Attempts-1 {
			break
		}
		if ctx.Err() != nil {
			return lastErr
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return lastErr
		}
		if next := delay * 2; next <= policy.MaxBackoff {
			delay = next
		} else {
			delay = policy.MaxBackoff
		}
	}
	return lastErr
}
