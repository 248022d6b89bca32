package postgres

import (
	"context"
	"fmt"

	"github.com/Rrens/genai-platform/internal/domain"
)

const chatbotColumns = `id, name, description, workspace_id, model_id, embedded_config, keep_active,
	instructions, redact_pii, created_by, created_at, last_modified_by, last_modified_at`

// ChatbotRepository handles chatbot data access
type ChatbotRepository struct {
	db *DB
}

// NewChatbotRepository creates a new chatbot repository
func NewChatbotRepository(db *DB) *ChatbotRepository {
	return &ChatbotRepository{db: db}
}

func (r *ChatbotRepository) Create(ctx context.Context, c *domain.Chatbot) error {
	cfg, err := toJSON(orEmptyMap(c.EmbeddedConfig))
	if err != nil {
		return err
	}
	query := `INSERT INTO chatbots (` + chatbotColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err = r.db.Pool.Exec(ctx, query,
		c.ID, c.Name, c.Description, c.WorkspaceID, c.ModelID, cfg, c.KeepActive,
		c.Instructions, c.RedactPII, c.CreatedBy, c.CreatedAt, c.LastModifiedBy, c.LastModifiedAt,
	)
	if err != nil {
		return duplicate(err, "chatbot %s already exists", c.Name)
	}
	return nil
}

func (r *ChatbotRepository) Get(ctx context.Context, id string) (*domain.Chatbot, error) {
	c, err := scanChatbot(r.db.Pool.QueryRow(ctx, `SELECT `+chatbotColumns+` FROM chatbots WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "chatbot "+id)
	}
	return c, nil
}

func (r *ChatbotRepository) GetByName(ctx context.Context, name string) (*domain.Chatbot, error) {
	c, err := scanChatbot(r.db.Pool.QueryRow(ctx, `SELECT `+chatbotColumns+` FROM chatbots WHERE name = $1`, name))
	if err != nil {
		return nil, notFound(err, "chatbot "+name)
	}
	return c, nil
}

func (r *ChatbotRepository) List(ctx context.Context, ids []string) ([]domain.Chatbot, error) {
	query, args := listByIDs(`SELECT `+chatbotColumns+` FROM chatbots`, ids)
	return r.query(ctx, query, args...)
}

func (r *ChatbotRepository) ListByWorkspace(ctx context.Context, workspaceID string) ([]domain.Chatbot, error) {
	return r.query(ctx, `SELECT `+chatbotColumns+` FROM chatbots WHERE workspace_id = $1 ORDER BY created_at`, workspaceID)
}

func (r *ChatbotRepository) Update(ctx context.Context, c *domain.Chatbot) error {
	cfg, err := toJSON(orEmptyMap(c.EmbeddedConfig))
	if err != nil {
		return err
	}
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE chatbots
		SET name = $2, description = $3, workspace_id = $4, model_id = $5, embedded_config = $6,
			keep_active = $7, instructions = $8, redact_pii = $9, last_modified_by = $10, last_modified_at = $11
		WHERE id = $1
	`, c.ID, c.Name, c.Description, c.WorkspaceID, c.ModelID, cfg,
		c.KeepActive, c.Instructions, c.RedactPII, c.LastModifiedBy, c.LastModifiedAt)
	if err != nil {
		return duplicate(err, "chatbot %s already exists", c.Name)
	}
	return affected(tag, "chatbot "+c.ID)
}

func (r *ChatbotRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM chatbots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete chatbot: %w", err)
	}
	return affected(tag, "chatbot "+id)
}

func (r *ChatbotRepository) query(ctx context.Context, query string, args ...any) ([]domain.Chatbot, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chatbots: %w", err)
	}
	defer rows.Close()

	var chatbots []domain.Chatbot
	for rows.Next() {
		c, err := scanChatbot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chatbot: %w", err)
		}
		chatbots = append(chatbots, *c)
	}
	return chatbots, rows.Err()
}

func scanChatbot(row rowScanner) (*domain.Chatbot, error) {
	var c domain.Chatbot
	var cfg []byte
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.WorkspaceID, &c.ModelID, &cfg, &c.KeepActive,
		&c.Instructions, &c.RedactPII, &c.CreatedBy, &c.CreatedAt, &c.LastModifiedBy, &c.LastModifiedAt)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(cfg, &c.EmbeddedConfig); err != nil {
		return nil, err
	}
	return &c, nil
}
