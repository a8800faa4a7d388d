package types

import (
	"context"
	"errors"
)

// Outcome is the terminal status of a run.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// OutcomeOf maps a run error to its outcome. Context cancellation and
// deadline expiry count as cancelled.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeCompleted
	case errors.Is(err, ErrCancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}

// FromContext converts a done context into a Cancelled error. It returns nil
// while the context is still live.
func FromContext(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return Wrap(KindCancelled, op, err)
	}
	return nil
}
