package task

import (
	"context"
	"errors"
	"time"
)

// ErrDeadline is returned by Guard when the work outlives its budget.
var ErrDeadline = errors.New("task deadline exceeded")

// WithBudget derives a context that expires margin before the earlier of
// ctx's own deadline and now+budget.
func WithBudget(ctx context.Context, budget, margin time.Duration) (context.Context, context.CancelFunc) {
	var deadline time.Time
	if budget > 0 {
		deadline = time.Now().Add(budget)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if deadline.IsZero() {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, deadline.Add(-margin))
}

// Guard runs fn under WithBudget. When the deadline passes first, fn's
// context is cancelled, onTimeout runs with a context detached from the
// expired one and bounded by margin, and ErrDeadline is returned without
// waiting for fn.
func Guard(ctx context.Context, budget, margin time.Duration, fn func(ctx context.Context) error, onTimeout func(ctx context.Context)) error {
	runCtx, cancel := WithBudget(ctx, budget, margin)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(runCtx)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			break
		}
		return err
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if onTimeout != nil {
		if margin <= 0 {
			margin = 10 * time.Second
		}
		tctx, tcancel := context.WithTimeout(context.WithoutCancel(ctx), margin)
		defer tcancel()
		onTimeout(tctx)
	}
	return ErrDeadline
}
