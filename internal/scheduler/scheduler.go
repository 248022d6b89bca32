// Package scheduler fires named recurring triggers stored in the metadata
// store and publishes a task for each due schedule.
package scheduler

import (
	"context"
	"time"

	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/Rrens/genai-platform/internal/task"
	"github.com/rs/zerolog/log"
)

const claimBatch = 50

// ScheduledEvent is the payload of a fired workspace schedule.
type ScheduledEvent struct {
	EventType   string    `json:"EventType"`
	WorkspaceID string    `json:"WorkspaceId"`
	Schedule    string    `json:"ScheduleName"`
	FiredAt     time.Time `json:"FiredAt"`
}

// Scheduler manages schedules and fires them.
type Scheduler struct {
	repo      domain.ScheduleRepository
	publisher task.Publisher
	now       func() time.Time
}

func New(repo domain.ScheduleRepository, publisher task.Publisher) *Scheduler {
	return &Scheduler{repo: repo, publisher: publisher, now: time.Now}
}

// Put creates or replaces the named schedule.
func (s *Scheduler) Put(ctx context.Context, name, expression, workspaceID string) error {
	now := s.now().UTC()
	next, err := Next(expression, now)
	if err != nil {
		return domain.Invalid("%s", err.Error())
	}
	return s.repo.Upsert(ctx, &domain.Schedule{
		Name:        name,
		Expression:  expression,
		WorkspaceID: workspaceID,
		Enabled:     true,
		NextRun:     next,
		CreatedAt:   now,
	})
}

// Remove deletes the named schedule.
func (s *Scheduler) Remove(ctx context.Context, name string) error {
	return s.repo.Delete(ctx, name)
}

// Tick claims due schedules and publishes one task per schedule.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now().UTC()
	due, err := s.repo.ClaimDue(ctx, now, claimBatch, func(sc *domain.Schedule) (time.Time, error) {
		next, err := Next(sc.Expression, now)
		if err != nil {
			// A broken expression is parked far in the future rather than
			// blocking the rest of the batch.
			log.Error().Err(err).Str("schedule", sc.Name).Msg("Invalid schedule expression")
			return now.AddDate(100, 0, 0), nil
		}
		return next, nil
	})
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, sc := range due {
		event := ScheduledEvent{
			EventType:   "ScheduledEvent",
			WorkspaceID: sc.WorkspaceID,
			Schedule:    sc.Name,
			FiredAt:     now,
		}
		if err := task.Enqueue(ctx, s.publisher, task.WorkspaceScheduled, event); err != nil {
			log.Error().Err(err).Str("schedule", sc.Name).Msg("Failed to publish scheduled run")
			continue
		}
		fired++
	}
	return fired, nil
}

// Run ticks every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("Scheduler started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.Tick(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Scheduler tick failed")
				continue
			}
			if n > 0 {
				log.Info().Int("fired", n).Msg("Fired schedules")
			}
		}
	}
}
