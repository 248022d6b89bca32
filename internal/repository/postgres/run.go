package postgres

import (
	"context"
	"fmt"

	"github.com/Rrens/genai-platform/internal/domain"
)

const runColumns = `workspace_id, id, status, trigger_type, triggered_by, ingestion_job_id, start_time, end_time, message, statistics`

// RunRepository handles workspace run data access
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Create(ctx context.Context, run *domain.WorkspaceRun) error {
	stats, err := toJSON(run.Statistics)
	if err != nil {
		return err
	}
	query := `INSERT INTO workspace_runs (` + runColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = r.db.Pool.Exec(ctx, query,
		run.WorkspaceID, run.ID, run.Status, run.TriggerType, run.TriggeredBy, run.IngestionJobID,
		run.StartTime, run.EndTime, run.Message, stats,
	)
	if err != nil {
		return duplicate(err, "run %s already exists", run.ID)
	}
	return nil
}

func (r *RunRepository) Get(ctx context.Context, workspaceID, runID string) (*domain.WorkspaceRun, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM workspace_runs WHERE workspace_id = $1 AND id = $2`, workspaceID, runID)
	run, err := scanRun(row)
	if err != nil {
		return nil, notFound(err, "run "+runID)
	}
	return run, nil
}

func (r *RunRepository) List(ctx context.Context, workspaceID string) ([]domain.WorkspaceRun, error) {
	return r.query(ctx,
		`SELECT `+runColumns+` FROM workspace_runs WHERE workspace_id = $1 ORDER BY start_time DESC`, workspaceID)
}

func (r *RunRepository) Update(ctx context.Context, run *domain.WorkspaceRun) error {
	stats, err := toJSON(run.Statistics)
	if err != nil {
		return err
	}
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE workspace_runs
		SET status = $3, ingestion_job_id = $4, end_time = $5, message = $6, statistics = $7
		WHERE workspace_id = $1 AND id = $2
	`, run.WorkspaceID, run.ID, run.Status, run.IngestionJobID, run.EndTime, run.Message, stats)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return affected(tag, "run "+run.ID)
}

func (r *RunRepository) InProgress(ctx context.Context, workspaceID string) ([]domain.WorkspaceRun, error) {
	return r.query(ctx, `
		SELECT `+runColumns+` FROM workspace_runs
		WHERE workspace_id = $1 AND status NOT IN ($2, $3)
		ORDER BY start_time
	`, workspaceID, domain.RunComplete, domain.RunFailed)
}

func (r *RunRepository) DeleteByWorkspace(ctx context.Context, workspaceID string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM workspace_runs WHERE workspace_id = $1`, workspaceID); err != nil {
		return fmt.Errorf("failed to delete runs: %w", err)
	}
	return nil
}

func (r *RunRepository) query(ctx context.Context, query string, args ...any) ([]domain.WorkspaceRun, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.WorkspaceRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (*domain.WorkspaceRun, error) {
	var run domain.WorkspaceRun
	var stats []byte
	err := row.Scan(&run.WorkspaceID, &run.ID, &run.Status, &run.TriggerType, &run.TriggeredBy,
		&run.IngestionJobID, &run.StartTime, &run.EndTime, &run.Message, &stats)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(stats, &run.Statistics); err != nil {
		return nil, err
	}
	return &run, nil
}
