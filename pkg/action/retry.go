package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/entrhq/courier/pkg/browser"
	"github.com/entrhq/courier/pkg/types"
)

// Step is one UI action wrapped for retry.
type Step struct {
	Name string

	// Idempotent steps may be repeated. Anything that submits, saves or
	// uploads is not idempotent and runs exactly once.
	Idempotent bool

	Run func(ctx context.Context) error
}

// RetryPolicy bounds retries of idempotent steps.
type RetryPolicy struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy allows three attempts with exponential delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:        3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     4 * time.Second,
	}
}

// Retry runs step under the default policy.
func Retry(ctx context.Context, step Step) error {
	return DefaultRetryPolicy().Do(ctx, step)
}

// Do runs step. Idempotent steps are retried while they fail with
// browser.ErrNotReady; any other error ends the step at once.
func (p RetryPolicy) Do(ctx context.Context, step Step) error {
	if err := types.FromContext(ctx, step.Name); err != nil {
		return err
	}
	if !step.Idempotent {
		return step.Run(ctx)
	}

	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	attempt := 0
	var last error
	err := backoff.Retry(func() error {
		attempt++
		err := step.Run(ctx)
		if err == nil {
			return nil
		}
		last = err
		if !errors.Is(err, browser.ErrNotReady) {
			return backoff.Permanent(err)
		}
		debugLog.Debugf("%s: attempt %d/%d not ready: %v", step.Name, attempt, attempts, err)
		return err
	}, bo)

	if err == nil {
		return nil
	}
	if ctxErr := types.FromContext(ctx, step.Name); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(last, browser.ErrNotReady) {
		return fmt.Errorf("%s: gave up after %d attempts: %w", step.Name, attempt, last)
	}
	return err
}
