package domain

import (
	"context"
	"time"
)

// Schedule is a recurring trigger firing scheduled workspace runs.
type Schedule struct {
	Name        string
	Expression  string
	WorkspaceID string
	Enabled     bool
	NextRun     time.Time
	LastRun     *time.Time
	CreatedAt   time.Time
}

// ScheduleRepository stores schedules.
type ScheduleRepository interface {
	Upsert(ctx context.Context, s *Schedule) error
	Get(ctx context.Context, name string) (*Schedule, error)
	Delete(ctx context.Context, name string) error
	// ClaimDue locks up to limit schedules due at now, moves each to the
	// next fire time computed by advance and returns the claimed rows.
	ClaimDue(ctx context.Context, now time.Time, limit int, advance func(*Schedule) (time.Time, error)) ([]Schedule, error)
}
