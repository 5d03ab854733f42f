package provision

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryPolicy bounds retries of one operation.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Retryable decides whether an error is worth another attempt.
	Retryable func(error) bool
	// Sleep waits between attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy retries three times with 500ms, 1s backoff.
func DefaultRetryPolicy(retryable func(error) bool) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2,
		Retryable:   retryable,
		Sleep:       sleepContext,
	}
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempts are spent. It returns the number of attempts made.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	limit := p.MaxAttempts
	if limit < 1 {
		limit = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 1; attempt <= limit; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if p.Retryable == nil || !p.Retryable(err) || attempt == limit {
			return attempt, err
		}
		if serr := sleep(ctx, p.Backoff(attempt)); serr != nil {
			return attempt, errors.Join(err, serr)
		}
	}
	return limit, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FallbackSequence is an ordered list of alternate parameters.
type FallbackSequence []string

// ErrSequenceExhausted is returned when every value was rejected.
var ErrSequenceExhausted = errors.New("fallback sequence exhausted")

// Try calls fn with each value in order. It moves to the next value only when
// advance(err) is true; any other error stops the sequence. Returns the value
// that succeeded.
func (s FallbackSequence) Try(ctx context.Context, fn func(ctx context.Context, value string) error, advance func(error) bool) (string, error) {
	if len(s) == 0 {
		return "", fmt.Errorf("%w: no values", ErrSequenceExhausted)
	}
	var errs []error
	for _, v := range s {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		err := fn(ctx, v)
		if err == nil {
			return v, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", v, err))
		if advance == nil || !advance(err) {
			return "", errors.Join(errs...)
		}
	}
	return "", errors.Join(append([]error{ErrSequenceExhausted}, errs...)...)
}
