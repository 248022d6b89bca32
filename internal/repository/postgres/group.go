package postgres

import (
	"context"
	"fmt"

	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/jackc/pgx/v5"
)

const groupColumns = `id, name, description, access_type, owner_id, is_default, created_at, updated_at`

// GroupRepository handles group membership and resource sharing
type GroupRepository struct {
	db *DB
}

// NewGroupRepository creates a new group repository
func NewGroupRepository(db *DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// Create inserts a group with its members and resources
func (r *GroupRepository) Create(ctx context.Context, g *domain.Group) error {
	return r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		query := `INSERT INTO groups (` + groupColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
		_, err := tx.Exec(ctx, query,
			g.ID, g.Name, g.Description, g.AccessType, g.OwnerID, g.Default, g.CreatedAt, g.UpdatedAt,
		)
		if err != nil {
			return duplicate(err, "group %s already exists", g.Name)
		}
		return writeMembership(ctx, tx, g)
	})
}

// Get retrieves a group with members and resources
func (r *GroupRepository) Get(ctx context.Context, id string) (*domain.Group, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = $1`, id)
	g, err := scanGroup(row)
	if err != nil {
		return nil, notFound(err, "group "+id)
	}
	if err := r.loadMembership(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// ListForUser returns the groups a user owns or belongs to
func (r *GroupRepository) ListForUser(ctx context.Context, userID string) ([]domain.Group, error) {
	query := `
		SELECT ` + groupColumns + ` FROM groups
		WHERE owner_id = $1 OR id IN (SELECT group_id FROM group_members WHERE user_id = $1)
		ORDER BY created_at
	`
	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	var groups []domain.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, *g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range groups {
		if err := r.loadMembership(ctx, &groups[i]); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// Update replaces the group's descriptive fields, members and resources
func (r *GroupRepository) Update(ctx context.Context, g *domain.Group) error {
	return r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE groups SET name = $2, description = $3, updated_at = $4 WHERE id = $1`,
			g.ID, g.Name, g.Description, g.UpdatedAt)
		if err != nil {
			return duplicate(err, "group %s already exists", g.Name)
		}
		if err := affected(tag, "group "+g.ID); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1`, g.ID); err != nil {
			return fmt.Errorf("failed to clear members: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM group_resources WHERE group_id = $1`, g.ID); err != nil {
			return fmt.Errorf("failed to clear resources: %w", err)
		}
		return writeMembership(ctx, tx, g)
	})
}

// Delete removes a group; members and resources cascade
func (r *GroupRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	return affected(tag, "group "+id)
}

// DefaultGroup returns the user's default group of the given access type
func (r *GroupRepository) DefaultGroup(ctx context.Context, userID string, access domain.AccessType) (*domain.Group, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+groupColumns+` FROM groups WHERE owner_id = $1 AND access_type = $2 AND is_default`,
		userID, access)
	g, err := scanGroup(row)
	if err != nil {
		return nil, notFound(err, "default group of "+userID)
	}
	if err := r.loadMembership(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// AddResource shares a resource through a group
func (r *GroupRepository) AddResource(ctx context.Context, groupID string, kind domain.ResourceKind, resourceID string) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO group_resources (group_id, kind, resource_id) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, groupID, kind, resourceID)
	if err != nil {
		return fmt.Errorf("failed to add resource to group: %w", err)
	}
	return nil
}

// RemoveResource drops a resource from every group
func (r *GroupRepository) RemoveResource(ctx context.Context, kind domain.ResourceKind, resourceID string) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM group_resources WHERE kind = $1 AND resource_id = $2`, kind, resourceID)
	if err != nil {
		return fmt.Errorf("failed to remove resource from groups: %w", err)
	}
	return nil
}

// Access returns the strongest access the user holds on a resource
func (r *GroupRepository) Access(ctx context.Context, userID string, kind domain.ResourceKind, resourceID string) (domain.AccessType, error) {
	query := `
		SELECT g.access_type FROM groups g
		JOIN group_resources gr ON gr.group_id = g.id
		WHERE gr.kind = $2 AND gr.resource_id = $3
			AND (g.owner_id = $1 OR g.id IN (SELECT group_id FROM group_members WHERE user_id = $1))
	`
	rows, err := r.db.Pool.Query(ctx, query, userID, kind, resourceID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve access: %w", err)
	}
	defer rows.Close()

	var access domain.AccessType
	for rows.Next() {
		var a domain.AccessType
		if err := rows.Scan(&a); err != nil {
			return "", fmt.Errorf("failed to scan access: %w", err)
		}
		if a == domain.AccessOwner {
			return a, nil
		}
		access = a
	}
	return access, rows.Err()
}

// ResourceIDs lists the resource ids of kind reachable by the user
func (r *GroupRepository) ResourceIDs(ctx context.Context, userID string, kind domain.ResourceKind) ([]string, error) {
	query := `
		SELECT DISTINCT gr.resource_id FROM group_resources gr
		JOIN groups g ON g.id = gr.group_id
		WHERE gr.kind = $2
			AND (g.owner_id = $1 OR g.id IN (SELECT group_id FROM group_members WHERE user_id = $1))
	`
	rows, err := r.db.Pool.Query(ctx, query, userID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan resource ids: %w", err)
	}
	return orEmptySlice(ids), nil
}

func (r *GroupRepository) loadMembership(ctx context.Context, g *domain.Group) error {
	rows, err := r.db.Pool.Query(ctx, `SELECT user_id FROM group_members WHERE group_id = $1 ORDER BY user_id`, g.ID)
	if err != nil {
		return fmt.Errorf("failed to load members: %w", err)
	}
	members, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("failed to scan members: %w", err)
	}
	g.Members = orEmptySlice(members)

	rows, err = r.db.Pool.Query(ctx, `SELECT kind, resource_id FROM group_resources WHERE group_id = $1`, g.ID)
	if err != nil {
		return fmt.Errorf("failed to load resources: %w", err)
	}
	defer rows.Close()

	g.Resources = map[domain.ResourceKind][]string{}
	for rows.Next() {
		var kind domain.ResourceKind
		var id string
		if err := rows.Scan(&kind, &id); err != nil {
			return fmt.Errorf("failed to scan resource: %w", err)
		}
		g.Resources[kind] = append(g.Resources[kind], id)
	}
	return rows.Err()
}

func writeMembership(ctx context.Context, tx pgx.Tx, g *domain.Group) error {
	for _, member := range g.Members {
		_, err := tx.Exec(ctx,
			`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			g.ID, member)
		if err != nil {
			return fmt.Errorf("failed to add member: %w", err)
		}
	}
	for kind, ids := range g.Resources {
		for _, id := range ids {
			_, err := tx.Exec(ctx,
				`INSERT INTO group_resources (group_id, kind, resource_id) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
				g.ID, kind, id)
			if err != nil {
				return fmt.Errorf("failed to add resource: %w", err)
			}
		}
	}
	return nil
}

func scanGroup(row rowScanner) (*domain.Group, error) {
	var g domain.Group
	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.AccessType, &g.OwnerID, &g.Default, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}
