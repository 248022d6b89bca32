package postgres

import (
	"context"
	"fmt"

	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// VectorStore manages the per-workspace embedding tables the knowledge base
// ingests into
type VectorStore struct {
	db *DB
}

// NewVectorStore creates a new vector store
func NewVectorStore(db *DB) *VectorStore {
	return &VectorStore{db: db}
}

// CreateTable installs a workspace vector table of the given width
func (s *VectorStore) CreateTable(ctx context.Context, table string, dimension int) error {
	if dimension <= 0 {
		return domain.Invalid("vector dimension must be positive")
	}
	name := pgx.Identifier{table}.Sanitize()
	index := pgx.Identifier{table + "_embedding_idx"}.Sanitize()

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			embedding VECTOR(%d),
			chunks TEXT,
			metadata JSON
		)`, name, dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`, index, name),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to install vector table %s: %w", table, err)
		}
	}
	return nil
}

// DropTable removes a workspace vector table
func (s *VectorStore) DropTable(ctx context.Context, table string) error {
	if _, err := s.db.Pool.Exec(ctx, `DROP TABLE IF EXISTS `+pgx.Identifier{table}.Sanitize()); err != nil {
		return fmt.Errorf("failed to drop vector table %s: %w", table, err)
	}
	return nil
}

// Count returns the number of embedded chunks in a table
func (s *VectorStore) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+pgx.Identifier{table}.Sanitize()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count vector table %s: %w", table, err)
	}
	return n, nil
}

// Chunk is a nearest-neighbour hit
type Chunk struct {
	ID       string
	Text     string
	Metadata []byte
	Distance float64
}

// Nearest returns the k chunks closest to embedding by cosine distance
func (s *VectorStore) Nearest(ctx context.Context, table string, embedding []float32, k int) ([]Chunk, error) {
	query := fmt.Sprintf(`
		SELECT id::text, COALESCE(chunks, ''), COALESCE(metadata::text, '{}'), embedding <=> $1 AS distance
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2
	`, pgx.Identifier{table}.Sanitize())

	rows, err := s.db.Pool.Query(ctx, query, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query vector table %s: %w", table, err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var metadata string
		if err := rows.Scan(&c.ID, &c.Text, &metadata, &c.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.Metadata = []byte(metadata)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
