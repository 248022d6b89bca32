package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/jackc/pgx/v5"
)

const scheduleColumns = `name, expression, workspace_id, enabled, next_run, last_run, created_at`

// ScheduleRepository persists recurring triggers
type ScheduleRepository struct {
	db *DB
}

// NewScheduleRepository creates a new schedule repository
func NewScheduleRepository(db *DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

func (r *ScheduleRepository) Upsert(ctx context.Context, s *domain.Schedule) error {
	query := `
		INSERT INTO schedules (` + scheduleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO UPDATE SET
			expression = EXCLUDED.expression, workspace_id = EXCLUDED.workspace_id,
			enabled = EXCLUDED.enabled, next_run = EXCLUDED.next_run
	`
	_, err := r.db.Pool.Exec(ctx, query,
		s.Name, s.Expression, s.WorkspaceID, s.Enabled, s.NextRun, s.LastRun, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert schedule: %w", err)
	}
	return nil
}

func (r *ScheduleRepository) Get(ctx context.Context, name string) (*domain.Schedule, error) {
	s, err := scanSchedule(r.db.Pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE name = $1`, name))
	if err != nil {
		return nil, notFound(err, "schedule "+name)
	}
	return s, nil
}

// Delete removes a schedule; deleting a missing schedule is not an error
func (r *ScheduleRepository) Delete(ctx context.Context, name string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM schedules WHERE name = $1`, name); err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return nil
}

// ClaimDue locks due schedules, advances them and returns the claimed rows
func (r *ScheduleRepository) ClaimDue(ctx context.Context, now time.Time, limit int, advance func(*domain.Schedule) (time.Time, error)) ([]domain.Schedule, error) {
	var due []domain.Schedule
	err := r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+scheduleColumns+` FROM schedules
			WHERE enabled AND next_run <= $1
			ORDER BY next_run
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		`, now, limit)
		if err != nil {
			return fmt.Errorf("failed to select due schedules: %w", err)
		}
		for rows.Next() {
			s, err := scanSchedule(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan schedule: %w", err)
			}
			due = append(due, *s)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for i := range due {
			next, err := advance(&due[i])
			if err != nil {
				return err
			}
			_, err = tx.Exec(ctx, `UPDATE schedules SET next_run = $2, last_run = $3 WHERE name = $1`,
				due[i].Name, next, now)
			if err != nil {
				return fmt.Errorf("failed to advance schedule: %w", err)
			}
			due[i].NextRun = next
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return due, nil
}

func scanSchedule(row rowScanner) (*domain.Schedule, error) {
	var s domain.Schedule
	if err := row.Scan(&s.Name, &s.Expression, &s.WorkspaceID, &s.Enabled, &s.NextRun, &s.LastRun, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}
