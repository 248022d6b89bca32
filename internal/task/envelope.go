// Package task carries long-running work between processes: a task envelope,
// a RabbitMQ-backed queue, a dispatcher and a state-machine runner.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind names a task handler.
type Kind string

const (
	WorkspaceSync        Kind = "workspace.sync"
	WorkspaceRunPoll     Kind = "workspace.run_poll"
	WorkspaceScheduled   Kind = "workspace.scheduled"
	WorkspaceCrawl       Kind = "workspace.crawl"
	WorkspaceMaterialize Kind = "workspace.materialize"
	ActionGroupBuild     Kind = "action_group.build"
	ActionGroupUpdate    Kind = "action_group.update"
	LibraryRebuild       Kind = "library.rebuild"
	SessionFileEvent     Kind = "session.file_event"
)

// Envelope is the unit published to the task queue.
type Envelope struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Attempt    int             `json:"attempt"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	// NotBefore delays handling until the given time.
	NotBefore time.Time `json:"not_before,omitempty"`
}

// New builds an envelope carrying payload.
func New(kind Kind, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return Envelope{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Kind, err)
	}
	return nil
}

// Continue returns the envelope to re-enqueue with a new payload after delay.
func (e Envelope) Continue(payload any, delay time.Duration) (Envelope, error) {
	next, err := New(e.Kind, payload)
	if err != nil {
		return Envelope{}, err
	}
	next.NotBefore = time.Now().UTC().Add(delay)
	return next, nil
}

// Publisher enqueues envelopes.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Enqueue builds and publishes a task in one call.
func Enqueue(ctx context.Context, p Publisher, kind Kind, payload any) error {
	env, err := New(kind, payload)
	if err != nil {
		return err
	}
	return p.Publish(ctx, env)
}

// ContinueError asks the consumer to acknowledge the current delivery and
// publish Next in its place.
type ContinueError struct {
	Next Envelope
}

func (e *ContinueError) Error() string {
	return fmt.Sprintf("task continues as %s", e.Next.ID)
}

// Continuation wraps next so a handler can return it as an error.
func Continuation(next Envelope) error {
	return &ContinueError{Next: next}
}

// ErrPermanent marks failures that must not be retried.
var ErrPermanent = errors.New("permanent task failure")

// Permanent wraps err so the consumer drops the task instead of retrying.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}
