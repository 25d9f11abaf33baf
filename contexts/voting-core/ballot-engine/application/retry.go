package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainerrors "evoting/contexts/voting-core/ballot-engine/domain/errors"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultRetryAttempts = 4
	defaultRetryInterval = 25 * time.Millisecond
	defaultRetryMax      = 500 * time.Millisecond
)

// RetryPolicy bounds retries of one unit of work. Only transient failures are
// retried; policy, race and invariant failures return on the first attempt.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is used when a use case carries a zero policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     defaultRetryAttempts,
		InitialInterval: defaultRetryInterval,
		MaxInterval:     defaultRetryMax,
	}
}

// Do runs op until it succeeds, fails permanently, or attempts run out.
// Exhausted transient failures are wrapped in ErrTemporarilyUnavailable.
func (p RetryPolicy) Do(ctx context.Context, op func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.InitialInterval
	if expo.InitialInterval <= 0 {
		expo.InitialInterval = defaultRetryInterval
	}
	expo.MaxInterval = p.MaxInterval
	if expo.MaxInterval <= 0 {
		expo.MaxInterval = defaultRetryMax
	}
	expo.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := op(attempt)
		if err == nil {
			return nil
		}
		if !domainerrors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(expo, uint64(attempts-1)), ctx))
	if err == nil {
		return nil
	}
	if domainerrors.IsRetryable(err) && !errors.Is(err, domainerrors.ErrTemporarilyUnavailable) {
		return fmt.Errorf("%w: %w", domainerrors.ErrTemporarilyUnavailable, err)
	}
	return err
}
