package task

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Transition advances state by one step and reports how long to wait before
// the next step.
type Transition[S any] func(ctx context.Context, state S) (S, time.Duration, error)

// Machine drives a typed state through Transition until Done holds.
type Machine[S any] struct {
	Name       string
	Transition Transition[S]
	Done       func(S) bool
	// MaxSteps bounds the transitions of one Run; zero is unbounded.
	MaxSteps int
}

// SuspendedError is returned by Run when the context deadline falls before
// the next step is due. State is where the machine stopped.
type SuspendedError struct {
	Wait time.Duration
}

func (e *SuspendedError) Error() string {
	return fmt.Sprintf("state machine suspended for %s", e.Wait)
}

// Run loops until a terminal state, an error, or suspension.
func (m Machine[S]) Run(ctx context.Context, state S) (S, error) {
	for step := 0; ; step++ {
		if m.Done(state) {
			return state, nil
		}
		if m.MaxSteps > 0 && step >= m.MaxSteps {
			return state, fmt.Errorf("%s: no terminal state after %d steps", m.Name, step)
		}

		next, wait, err := m.Transition(ctx, state)
		if err != nil {
			return state, err
		}
		state = next
		if m.Done(state) || wait <= 0 {
			continue
		}

		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
			return state, &SuspendedError{Wait: wait}
		}
		if err := sleep(ctx, wait); err != nil {
			return state, err
		}
	}
}

// Drive runs m from state inside a task handler. A suspended machine is
// re-enqueued as a continuation of env carrying its current state.
func Drive[S any](ctx context.Context, env Envelope, m Machine[S], state S) error {
	final, err := m.Run(ctx, state)
	var suspended *SuspendedError
	if errors.As(err, &suspended) {
		next, cerr := env.Continue(final, suspended.Wait)
		if cerr != nil {
			return cerr
		}
		return Continuation(next)
	}
	return err
}

// Poll calls check until it reports done, pausing base*factor^n between
// attempts. It gives up after retries checks.
func Poll(ctx context.Context, base time.Duration, factor, retries int, check func(ctx context.Context) (bool, error)) error {
	wait := base
	for attempt := 0; attempt < retries; attempt++ {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if attempt == retries-1 {
			break
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
		wait *= time.Duration(max(1, factor))
	}
	return ErrPollExhausted
}

// ErrPollExhausted is returned by Poll when retries run out.
var ErrPollExhausted = errors.New("condition not reached before retries ran out")

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
