package postgres

import (
	"context"
	"fmt"

	"github.com/Rrens/genai-platform/internal/domain"
)

const workspaceColumns = `id, name, description, keywords, trigger_type, schedule_expression, chunking,
	embedding_model, rag_engine, datasets, knowledge_base_id, data_source_id, role_handle, vector_table,
	status, message, file_sync_status, created_by, created_at, last_modified_by, last_modified_at`

// WorkspaceRepository handles workspace data access
type WorkspaceRepository struct {
	db *DB
}

// NewWorkspaceRepository creates a new workspace repository
func NewWorkspaceRepository(db *DB) *WorkspaceRepository {
	return &WorkspaceRepository{db: db}
}

// Create creates a new workspace
func (r *WorkspaceRepository) Create(ctx context.Context, w *domain.Workspace) error {
	keywords, chunking, datasets, err := workspaceJSON(w)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workspaces (` + workspaceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`
	_, err = r.db.Pool.Exec(ctx, query,
		w.ID, w.Name, w.Description, keywords, w.TriggerType, w.ScheduleExpression, chunking,
		w.EmbeddingModel, w.RAGEngine, datasets, w.KnowledgeBaseID, w.DataSourceID, w.RoleHandle, w.VectorTable,
		w.Status, w.Message, w.FileSyncStatus, w.CreatedBy, w.CreatedAt, w.LastModifiedBy, w.LastModifiedAt,
	)
	if err != nil {
		return duplicate(err, "workspace %s already exists", w.Name)
	}
	return nil
}

// Get retrieves a workspace by ID
func (r *WorkspaceRepository) Get(ctx context.Context, id string) (*domain.Workspace, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE id = $1`, id)
	w, err := scanWorkspace(row)
	if err != nil {
		return nil, notFound(err, "workspace "+id)
	}
	return w, nil
}

// GetByName retrieves a workspace by its unique name
func (r *WorkspaceRepository) GetByName(ctx context.Context, name string) (*domain.Workspace, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE name = $1`, name)
	w, err := scanWorkspace(row)
	if err != nil {
		return nil, notFound(err, "workspace "+name)
	}
	return w, nil
}

// List returns the workspaces with the given ids, or every workspace when
// ids is nil
func (r *WorkspaceRepository) List(ctx context.Context, ids []string) ([]domain.Workspace, error) {
	query, args := listByIDs(`SELECT `+workspaceColumns+` FROM workspaces`, ids)
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []domain.Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		workspaces = append(workspaces, *w)
	}
	return workspaces, rows.Err()
}

// Update overwrites a workspace
func (r *WorkspaceRepository) Update(ctx context.Context, w *domain.Workspace) error {
	keywords, chunking, datasets, err := workspaceJSON(w)
	if err != nil {
		return err
	}

	query := `
		UPDATE workspaces
		SET name = $2, description = $3, keywords = $4, trigger_type = $5, schedule_expression = $6,
			chunking = $7, embedding_model = $8, rag_engine = $9, datasets = $10, knowledge_base_id = $11,
			data_source_id = $12, role_handle = $13, vector_table = $14, status = $15, message = $16,
			file_sync_status = $17, last_modified_by = $18, last_modified_at = $19
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		w.ID, w.Name, w.Description, keywords, w.TriggerType, w.ScheduleExpression,
		chunking, w.EmbeddingModel, w.RAGEngine, datasets, w.KnowledgeBaseID,
		w.DataSourceID, w.RoleHandle, w.VectorTable, w.Status, w.Message,
		w.FileSyncStatus, w.LastModifiedBy, w.LastModifiedAt,
	)
	if err != nil {
		return duplicate(err, "workspace %s already exists", w.Name)
	}
	return affected(tag, "workspace "+w.ID)
}

// UpdateStatus sets the lifecycle status and message
func (r *WorkspaceRepository) UpdateStatus(ctx context.Context, id string, status domain.WorkspaceStatus, message string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE workspaces SET status = $2, message = $3 WHERE id = $1`, id, status, message)
	if err != nil {
		return fmt.Errorf("failed to update workspace status: %w", err)
	}
	return affected(tag, "workspace "+id)
}

// UpdateSyncStatus sets the source file sync status
func (r *WorkspaceRepository) UpdateSyncStatus(ctx context.Context, id string, status domain.SyncStatus) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE workspaces SET file_sync_status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	return affected(tag, "workspace "+id)
}

// Delete deletes a workspace; documents and runs cascade
func (r *WorkspaceRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM workspaces WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	return affected(tag, "workspace "+id)
}

func workspaceJSON(w *domain.Workspace) (keywords, chunking, datasets []byte, err error) {
	if keywords, err = toJSON(orEmptySlice(w.Keywords)); err != nil {
		return
	}
	if chunking, err = toJSON(w.Chunking); err != nil {
		return
	}
	datasets, err = toJSON(orEmptySlice(w.Datasets))
	return
}

func scanWorkspace(row rowScanner) (*domain.Workspace, error) {
	var w domain.Workspace
	var keywords, chunking, datasets []byte
	err := row.Scan(
		&w.ID, &w.Name, &w.Description, &keywords, &w.TriggerType, &w.ScheduleExpression, &chunking,
		&w.EmbeddingModel, &w.RAGEngine, &datasets, &w.KnowledgeBaseID, &w.DataSourceID, &w.RoleHandle, &w.VectorTable,
		&w.Status, &w.Message, &w.FileSyncStatus, &w.CreatedBy, &w.CreatedAt, &w.LastModifiedBy, &w.LastModifiedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(keywords, &w.Keywords); err != nil {
		return nil, err
	}
	if err := fromJSON(chunking, &w.Chunking); err != nil {
		return nil, err
	}
	if err := fromJSON(datasets, &w.Datasets); err != nil {
		return nil, err
	}
	return &w, nil
}
