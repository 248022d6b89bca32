package postgres

import (
	"context"
	"fmt"

	"github.com/Rrens/genai-platform/internal/domain"
)

const actionGroupColumns = `id, name, description, handler, function_name, schema_key, code_key, layer_key,
	libraries, status, message, function_handle, role_handle, layer_handle, system_generated,
	created_by, created_at, last_modified_by, last_modified_at`

// ActionGroupRepository handles action group data access
type ActionGroupRepository struct {
	db *DB
}

// NewActionGroupRepository creates a new action group repository
func NewActionGroupRepository(db *DB) *ActionGroupRepository {
	return &ActionGroupRepository{db: db}
}

func (r *ActionGroupRepository) Create(ctx context.Context, g *domain.ActionGroup) error {
	libs, err := toJSON(orEmptySlice(g.Libraries))
	if err != nil {
		return err
	}
	query := `
		INSERT INTO action_groups (` + actionGroupColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	_, err = r.db.Pool.Exec(ctx, query,
		g.ID, g.Name, g.Description, g.Handler, g.FunctionName, g.SchemaKey, g.CodeKey, g.LayerKey,
		libs, g.Status, g.Message, g.FunctionHandle, g.RoleHandle, g.LayerHandle, g.SystemGenerated,
		g.CreatedBy, g.CreatedAt, g.LastModifiedBy, g.LastModifiedAt,
	)
	if err != nil {
		return duplicate(err, "action group %s already exists", g.Name)
	}
	return nil
}

func (r *ActionGroupRepository) Get(ctx context.Context, id string) (*domain.ActionGroup, error) {
	g, err := scanActionGroup(r.db.Pool.QueryRow(ctx, `SELECT `+actionGroupColumns+` FROM action_groups WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "action group "+id)
	}
	return g, nil
}

func (r *ActionGroupRepository) GetByName(ctx context.Context, name string) (*domain.ActionGroup, error) {
	g, err := scanActionGroup(r.db.Pool.QueryRow(ctx, `SELECT `+actionGroupColumns+` FROM action_groups WHERE name = $1`, name))
	if err != nil {
		return nil, notFound(err, "action group "+name)
	}
	return g, nil
}

func (r *ActionGroupRepository) List(ctx context.Context, ids []string) ([]domain.ActionGroup, error) {
	query, args := listByIDs(`SELECT `+actionGroupColumns+` FROM action_groups`, ids)
	return r.query(ctx, query, args...)
}

func (r *ActionGroupRepository) ListSystemGenerated(ctx context.Context) ([]domain.ActionGroup, error) {
	return r.query(ctx, `SELECT `+actionGroupColumns+` FROM action_groups WHERE system_generated ORDER BY created_at`)
}

func (r *ActionGroupRepository) ListByLibrary(ctx context.Context, libraryID string) ([]domain.ActionGroup, error) {
	return r.query(ctx, `
		SELECT `+actionGroupColumns+` FROM action_groups
		WHERE libraries ? $1
		ORDER BY created_at
	`, libraryID)
}

func (r *ActionGroupRepository) Update(ctx context.Context, g *domain.ActionGroup) error {
	libs, err := toJSON(orEmptySlice(g.Libraries))
	if err != nil {
		return err
	}
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE action_groups
		SET name = $2, description = $3, handler = $4, function_name = $5, schema_key = $6, code_key = $7,
			layer_key = $8, libraries = $9, status = $10, message = $11, function_handle = $12,
			role_handle = $13, layer_handle = $14, last_modified_by = $15, last_modified_at = $16
		WHERE id = $1
	`, g.ID, g.Name, g.Description, g.Handler, g.FunctionName, g.SchemaKey, g.CodeKey,
		g.LayerKey, libs, g.Status, g.Message, g.FunctionHandle,
		g.RoleHandle, g.LayerHandle, g.LastModifiedBy, g.LastModifiedAt)
	if err != nil {
		return duplicate(err, "action group %s already exists", g.Name)
	}
	return affected(tag, "action group "+g.ID)
}

func (r *ActionGroupRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM action_groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete action group: %w", err)
	}
	return affected(tag, "action group "+id)
}

func (r *ActionGroupRepository) query(ctx context.Context, query string, args ...any) ([]domain.ActionGroup, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list action groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.ActionGroup
	for rows.Next() {
		g, err := scanActionGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action group: %w", err)
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

func scanActionGroup(row rowScanner) (*domain.ActionGroup, error) {
	var g domain.ActionGroup
	var libs []byte
	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.Handler, &g.FunctionName, &g.SchemaKey, &g.CodeKey, &g.LayerKey,
		&libs, &g.Status, &g.Message, &g.FunctionHandle, &g.RoleHandle, &g.LayerHandle, &g.SystemGenerated,
		&g.CreatedBy, &g.CreatedAt, &g.LastModifiedBy, &g.LastModifiedAt)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(libs, &g.Libraries); err != nil {
		return nil, err
	}
	g.Libraries = orEmptySlice(g.Libraries)
	return &g, nil
}

// LibraryRepository handles library data access
type LibraryRepository struct {
	db *DB
}

// NewLibraryRepository creates a new library repository
func NewLibraryRepository(db *DB) *LibraryRepository {
	return &LibraryRepository{db: db}
}

const libraryColumns = `id, name, description, archives, created_by, created_at, last_modified_by, last_modified_at`

func (r *LibraryRepository) Create(ctx context.Context, l *domain.Library) error {
	archives, err := toJSON(orEmptySlice(l.Archives))
	if err != nil {
		return err
	}
	_, err = r.db.Pool.Exec(ctx, `INSERT INTO libraries (`+libraryColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.ID, l.Name, l.Description, archives, l.CreatedBy, l.CreatedAt, l.LastModifiedBy, l.LastModifiedAt)
	if err != nil {
		return duplicate(err, "library %s already exists", l.Name)
	}
	return nil
}

func (r *LibraryRepository) Get(ctx context.Context, id string) (*domain.Library, error) {
	l, err := scanLibrary(r.db.Pool.QueryRow(ctx, `SELECT `+libraryColumns+` FROM libraries WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "library "+id)
	}
	return l, nil
}

func (r *LibraryRepository) GetByName(ctx context.Context, name string) (*domain.Library, error) {
	l, err := scanLibrary(r.db.Pool.QueryRow(ctx, `SELECT `+libraryColumns+` FROM libraries WHERE name = $1`, name))
	if err != nil {
		return nil, notFound(err, "library "+name)
	}
	return l, nil
}

func (r *LibraryRepository) List(ctx context.Context, ids []string) ([]domain.Library, error) {
	query, args := listByIDs(`SELECT `+libraryColumns+` FROM libraries`, ids)
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list libraries: %w", err)
	}
	defer rows.Close()

	var libs []domain.Library
	for rows.Next() {
		l, err := scanLibrary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan library: %w", err)
		}
		libs = append(libs, *l)
	}
	return libs, rows.Err()
}

func (r *LibraryRepository) Update(ctx context.Context, l *domain.Library) error {
	archives, err := toJSON(orEmptySlice(l.Archives))
	if err != nil {
		return err
	}
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE libraries SET name = $2, description = $3, archives = $4, last_modified_by = $5, last_modified_at = $6
		WHERE id = $1
	`, l.ID, l.Name, l.Description, archives, l.LastModifiedBy, l.LastModifiedAt)
	if err != nil {
		return duplicate(err, "library %s already exists", l.Name)
	}
	return affected(tag, "library "+l.ID)
}

func (r *LibraryRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM libraries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete library: %w", err)
	}
	return affected(tag, "library "+id)
}

func scanLibrary(row rowScanner) (*domain.Library, error) {
	var l domain.Library
	var archives []byte
	err := row.Scan(&l.ID, &l.Name, &l.Description, &archives, &l.CreatedBy, &l.CreatedAt, &l.LastModifiedBy, &l.LastModifiedAt)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(archives, &l.Archives); err != nil {
		return nil, err
	}
	l.Archives = orEmptySlice(l.Archives)
	return &l, nil
}
