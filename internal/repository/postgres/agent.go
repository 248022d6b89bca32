package postgres

import (
	"context"
	"fmt"

	"github.com/Rrens/genai-platform/internal/domain"
)

const agentColumns = `id, name, description, reference_id, alias_id, version, base_model, instruction,
	query_follow_up, status, message, action_groups, workspaces, created_by, created_at,
	last_modified_by, last_modified_at`

// AgentRepository handles agent data access
type AgentRepository struct {
	db *DB
}

// NewAgentRepository creates a new agent repository
func NewAgentRepository(db *DB) *AgentRepository {
	return &AgentRepository{db: db}
}

func (r *AgentRepository) Create(ctx context.Context, a *domain.Agent) error {
	groups, workspaces, err := agentJSON(a)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO agents (` + agentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err = r.db.Pool.Exec(ctx, query,
		a.ID, a.Name, a.Description, a.ReferenceID, a.AliasID, a.Version, a.BaseModel, a.Instruction,
		a.QueryFollowUp, a.Status, a.Message, groups, workspaces, a.CreatedBy, a.CreatedAt,
		a.LastModifiedBy, a.LastModifiedAt,
	)
	if err != nil {
		return duplicate(err, "agent %s already exists", a.Name)
	}
	return nil
}

func (r *AgentRepository) Get(ctx context.Context, id string) (*domain.Agent, error) {
	a, err := scanAgent(r.db.Pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "agent "+id)
	}
	return a, nil
}

func (r *AgentRepository) GetByName(ctx context.Context, name string) (*domain.Agent, error) {
	a, err := scanAgent(r.db.Pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE name = $1`, name))
	if err != nil {
		return nil, notFound(err, "agent "+name)
	}
	return a, nil
}

func (r *AgentRepository) List(ctx context.Context, ids []string) ([]domain.Agent, error) {
	query, args := listByIDs(`SELECT `+agentColumns+` FROM agents`, ids)
	return r.query(ctx, query, args...)
}

func (r *AgentRepository) Update(ctx context.Context, a *domain.Agent) error {
	groups, workspaces, err := agentJSON(a)
	if err != nil {
		return err
	}
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE agents
		SET name = $2, description = $3, reference_id = $4, alias_id = $5, version = $6, base_model = $7,
			instruction = $8, query_follow_up = $9, status = $10, message = $11, action_groups = $12,
			workspaces = $13, last_modified_by = $14, last_modified_at = $15
		WHERE id = $1
	`, a.ID, a.Name, a.Description, a.ReferenceID, a.AliasID, a.Version, a.BaseModel,
		a.Instruction, a.QueryFollowUp, a.Status, a.Message, groups,
		workspaces, a.LastModifiedBy, a.LastModifiedAt)
	if err != nil {
		return duplicate(err, "agent %s already exists", a.Name)
	}
	return affected(tag, "agent "+a.ID)
}

func (r *AgentRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	return affected(tag, "agent "+id)
}

func (r *AgentRepository) ListByWorkspace(ctx context.Context, workspaceID string) ([]domain.Agent, error) {
	return r.query(ctx, `
		SELECT `+agentColumns+` FROM agents
		WHERE workspaces @> jsonb_build_array(jsonb_build_object('WorkspaceId', $1::text))
		ORDER BY created_at
	`, workspaceID)
}

func (r *AgentRepository) ListByActionGroup(ctx context.Context, actionGroupID string) ([]domain.Agent, error) {
	return r.query(ctx, `
		SELECT `+agentColumns+` FROM agents
		WHERE action_groups @> jsonb_build_array(jsonb_build_object('ActionGroupId', $1::text))
		ORDER BY created_at
	`, actionGroupID)
}

func (r *AgentRepository) query(ctx context.Context, query string, args ...any) ([]domain.Agent, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func agentJSON(a *domain.Agent) (groups, workspaces []byte, err error) {
	if groups, err = toJSON(orEmptySlice(a.ActionGroups)); err != nil {
		return
	}
	workspaces, err = toJSON(orEmptySlice(a.Workspaces))
	return
}

func scanAgent(row rowScanner) (*domain.Agent, error) {
	var a domain.Agent
	var groups, workspaces []byte
	err := row.Scan(&a.ID, &a.Name, &a.Description, &a.ReferenceID, &a.AliasID, &a.Version, &a.BaseModel,
		&a.Instruction, &a.QueryFollowUp, &a.Status, &a.Message, &groups, &workspaces, &a.CreatedBy,
		&a.CreatedAt, &a.LastModifiedBy, &a.LastModifiedAt)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(groups, &a.ActionGroups); err != nil {
		return nil, err
	}
	if err := fromJSON(workspaces, &a.Workspaces); err != nil {
		return nil, err
	}
	a.ActionGroups = orEmptySlice(a.ActionGroups)
	a.Workspaces = orEmptySlice(a.Workspaces)
	return &a, nil
}
