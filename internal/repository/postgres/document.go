package postgres

import (
	"context"
	"fmt"

	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/jackc/pgx/v5"
)

const documentColumns = `workspace_id, id, type, dataset_id, object_key, urls, crawl, created_by, created_at, updated_at`

// DocumentRepository handles workspace document data access
type DocumentRepository struct {
	db *DB
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, d *domain.Document) error {
	urls, crawl, err := documentJSON(d)
	if err != nil {
		return err
	}
	query := `INSERT INTO documents (` + documentColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = r.db.Pool.Exec(ctx, query,
		d.WorkspaceID, d.ID, d.Type, d.DatasetID, d.ObjectKey, urls, crawl, d.CreatedBy, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return duplicate(err, "document %s already exists", d.ID)
	}
	return nil
}

// CreateBatch inserts documents in one round trip, skipping object keys the
// workspace already tracks
func (r *DocumentRepository) CreateBatch(ctx context.Context, docs []domain.Document) error {
	if len(docs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING
	`
	for i := range docs {
		d := &docs[i]
		urls, crawl, err := documentJSON(d)
		if err != nil {
			return err
		}
		batch.Queue(query,
			d.WorkspaceID, d.ID, d.Type, d.DatasetID, d.ObjectKey, urls, crawl, d.CreatedBy, d.CreatedAt, d.UpdatedAt,
		)
	}

	if err := r.db.Pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert documents: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Get(ctx context.Context, workspaceID, documentID string) (*domain.Document, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE workspace_id = $1 AND id = $2`, workspaceID, documentID)
	d, err := scanDocument(row)
	if err != nil {
		return nil, notFound(err, "document "+documentID)
	}
	return d, nil
}

// List returns the workspace's documents, optionally filtered by type
func (r *DocumentRepository) List(ctx context.Context, workspaceID string, t domain.DocumentType) ([]domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE workspace_id = $1 AND ($2 = '' OR type = $2) ORDER BY created_at`
	rows, err := r.db.Pool.Query(ctx, query, workspaceID, string(t))
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

func (r *DocumentRepository) Update(ctx context.Context, d *domain.Document) error {
	urls, crawl, err := documentJSON(d)
	if err != nil {
		return err
	}
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE documents SET dataset_id = $3, object_key = $4, urls = $5, crawl = $6, updated_at = $7
		WHERE workspace_id = $1 AND id = $2
	`, d.WorkspaceID, d.ID, d.DatasetID, d.ObjectKey, urls, crawl, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	return affected(tag, "document "+d.ID)
}

func (r *DocumentRepository) Delete(ctx context.Context, workspaceID, documentID string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM documents WHERE workspace_id = $1 AND id = $2`, workspaceID, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return affected(tag, "document "+documentID)
}

func (r *DocumentRepository) DeleteByWorkspace(ctx context.Context, workspaceID string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM documents WHERE workspace_id = $1`, workspaceID); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

func (r *DocumentRepository) CountByType(ctx context.Context, workspaceID string) (map[domain.DocumentType]int, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT type, COUNT(*) FROM documents WHERE workspace_id = $1 GROUP BY type`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	defer rows.Close()

	counts := map[domain.DocumentType]int{}
	for rows.Next() {
		var t domain.DocumentType
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

func documentJSON(d *domain.Document) (urls, crawl []byte, err error) {
	if urls, err = toJSON(orEmptySlice(d.URLs)); err != nil {
		return
	}
	if d.Crawl != nil {
		crawl, err = toJSON(d.Crawl)
	}
	return
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var d domain.Document
	var urls, crawl []byte
	err := row.Scan(&d.WorkspaceID, &d.ID, &d.Type, &d.DatasetID, &d.ObjectKey, &urls, &crawl,
		&d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(urls, &d.URLs); err != nil {
		return nil, err
	}
	if len(crawl) > 0 {
		d.Crawl = &domain.Crawl{}
		if err := fromJSON(crawl, d.Crawl); err != nil {
			return nil, err
		}
	}
	return &d, nil
}
