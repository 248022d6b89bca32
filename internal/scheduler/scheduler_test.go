package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/Rrens/genai-platform/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext(t *testing.T) {
	from := time.Date(2024, 3, 4, 10, 30, 0, 0, time.UTC) // Monday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"rate(5 minutes)", from.Add(5 * time.Minute)},
		{"rate(1 hour)", from.Add(time.Hour)},
		{"rate(2 days)", from.Add(48 * time.Hour)},
		{"cron(0 12 * * ? *)", time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)},
		{"cron(15 9 ? * 1 *)", time.Date(2024, 3, 10, 9, 15, 0, 0, time.UTC)},
		{"cron(0 8 ? * 2-6 *)", time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)},
		{"cron(0 0 1 * ? *)", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
		{"*/10 * * * *", time.Date(2024, 3, 4, 10, 40, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Next(tt.expr, from)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, expr := range []string{
		"rate(0 minutes)",
		"rate(5 weeks)",
		"rate(five minutes)",
		"cron(0 12 * *)",
		"cron(0 12 * * ? 2030)",
		"cron(0 12 ? * 9 *)",
		"cron(0 12 ? * 2#1 *)",
		"every day",
	} {
		_, err := Parse(expr)
		assert.Error(t, err, expr)
	}
}

type memorySchedules struct {
	rows map[string]domain.Schedule
}

func (m *memorySchedules) Upsert(ctx context.Context, s *domain.Schedule) error {
	m.rows[s.Name] = *s
	return nil
}

func (m *memorySchedules) Get(ctx context.Context, name string) (*domain.Schedule, error) {
	s, ok := m.rows[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

func (m *memorySchedules) Delete(ctx context.Context, name string) error {
	delete(m.rows, name)
	return nil
}

func (m *memorySchedules) ClaimDue(ctx context.Context, now time.Time, limit int, advance func(*domain.Schedule) (time.Time, error)) ([]domain.Schedule, error) {
	var due []domain.Schedule
	for name, s := range m.rows {
		if !s.Enabled || s.NextRun.After(now) {
			continue
		}
		next, err := advance(&s)
		if err != nil {
			return nil, err
		}
		s.NextRun = next
		s.LastRun = &now
		m.rows[name] = s
		due = append(due, s)
	}
	return due, nil
}

type recordingPublisher struct {
	envs []task.Envelope
}

func (p *recordingPublisher) Publish(ctx context.Context, env task.Envelope) error {
	p.envs = append(p.envs, env)
	return nil
}

func TestScheduler_Tick(t *testing.T) {
	ctx := context.Background()
	repo := &memorySchedules{rows: map[string]domain.Schedule{}}
	pub := &recordingPublisher{}
	s := New(repo, pub)

	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, "workspace-ws1", "rate(10 minutes)", "ws1"))
	assert.Equal(t, now.Add(10*time.Minute), repo.rows["workspace-ws1"].NextRun)

	n, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	now = now.Add(11 * time.Minute)
	n, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, pub.envs, 1)
	assert.Equal(t, task.WorkspaceScheduled, pub.envs[0].Kind)

	var event ScheduledEvent
	require.NoError(t, pub.envs[0].Decode(&event))
	assert.Equal(t, "ws1", event.WorkspaceID)
	assert.Equal(t, "ScheduledEvent", event.EventType)
	assert.Equal(t, now.Add(10*time.Minute), repo.rows["workspace-ws1"].NextRun)

	require.NoError(t, s.Remove(ctx, "workspace-ws1"))
	assert.Empty(t, repo.rows)
}

func TestScheduler_PutRejectsBadExpression(t *testing.T) {
	s := New(&memorySchedules{rows: map[string]domain.Schedule{}}, &recordingPublisher{})
	err := s.Put(context.Background(), "workspace-x", "cron(bad)", "x")
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
}
