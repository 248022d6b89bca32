package postgres

import (
	"context"
	"fmt"

	"github.com/Rrens/genai-platform/internal/domain"
)

const modelColumns = `id, name, provider, modalities, type, host, on_demand, provisioned_handle, streaming,
	enabled, available, max_input_chars, embedding_dimension, embedding_token_limit, requires_credential`

// ModelRepository handles the model catalog
type ModelRepository struct {
	db *DB
}

// NewModelRepository creates a new model repository
func NewModelRepository(db *DB) *ModelRepository {
	return &ModelRepository{db: db}
}

func (r *ModelRepository) Get(ctx context.Context, id string) (*domain.Model, error) {
	m, err := scanModel(r.db.Pool.QueryRow(ctx, `SELECT `+modelColumns+` FROM models WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "model "+id)
	}
	return m, nil
}

func (r *ModelRepository) List(ctx context.Context) ([]domain.Model, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+modelColumns+` FROM models ORDER BY provider, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	var models []domain.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}
		models = append(models, *m)
	}
	return models, rows.Err()
}

func (r *ModelRepository) Upsert(ctx context.Context, m *domain.Model) error {
	modalities, err := toJSON(orEmptySlice(m.Modality))
	if err != nil {
		return err
	}
	query := `
		INSERT INTO models (` + modelColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, provider = EXCLUDED.provider, modalities = EXCLUDED.modalities,
			type = EXCLUDED.type, host = EXCLUDED.host, on_demand = EXCLUDED.on_demand,
			provisioned_handle = EXCLUDED.provisioned_handle, streaming = EXCLUDED.streaming,
			enabled = EXCLUDED.enabled, available = EXCLUDED.available,
			max_input_chars = EXCLUDED.max_input_chars, embedding_dimension = EXCLUDED.embedding_dimension,
			embedding_token_limit = EXCLUDED.embedding_token_limit,
			requires_credential = EXCLUDED.requires_credential
	`
	_, err = r.db.Pool.Exec(ctx, query,
		m.ID, m.Name, m.Provider, modalities, m.Type, m.Host, m.OnDemand, m.ProvisionedHandle, m.Streaming,
		m.Enabled, m.Available, m.MaxInputChars, m.EmbeddingDimension, m.EmbeddingTokenLimit, m.RequiresCredential,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert model: %w", err)
	}
	return nil
}

func scanModel(row rowScanner) (*domain.Model, error) {
	var m domain.Model
	var modalities []byte
	err := row.Scan(&m.ID, &m.Name, &m.Provider, &modalities, &m.Type, &m.Host, &m.OnDemand, &m.ProvisionedHandle,
		&m.Streaming, &m.Enabled, &m.Available, &m.MaxInputChars, &m.EmbeddingDimension, &m.EmbeddingTokenLimit,
		&m.RequiresCredential)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(modalities, &m.Modality); err != nil {
		return nil, err
	}
	return &m, nil
}
