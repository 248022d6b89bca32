package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, email, name, role, role_updating, integration_status, default_domain,
	dataplane_user_id, dataplane_role_id, credential, credential_expiry, provider_key,
	preferences, alert_preferences, created_at, updated_at`

// UserRepository handles user data access
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a user. The first user of the platform becomes Admin.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	prefs, err := toJSON(orEmptyMap(u.Preferences))
	if err != nil {
		return err
	}
	alerts, err := toJSON(orEmptySlice(u.AlertPreferences))
	if err != nil {
		return err
	}

	return r.db.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users)`).Scan(&exists); err != nil {
			return fmt.Errorf("failed to count users: %w", err)
		}
		if !exists {
			u.Role = domain.RoleAdmin
		}

		query := `
			INSERT INTO users (` + userColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`
		_, err := tx.Exec(ctx, query,
			u.ID, u.Email, u.Name, u.Role, u.RoleUpdating, u.IntegrationStatus, u.DefaultDomain,
			u.DataPlaneUserID, u.DataPlaneRoleID, u.Credential, nullTime(u.CredentialExpiry), u.ProviderKey,
			prefs, alerts, u.CreatedAt, u.UpdatedAt,
		)
		if err != nil {
			return duplicate(err, "user %s already exists", u.ID)
		}
		return nil
	})
}

// Get retrieves a user by ID
func (r *UserRepository) Get(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, notFound(err, "user "+id)
	}
	return u, nil
}

// List returns every user
func (r *UserRepository) List(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// Update overwrites the mutable user fields
func (r *UserRepository) Update(ctx context.Context, u *domain.User) error {
	prefs, err := toJSON(orEmptyMap(u.Preferences))
	if err != nil {
		return err
	}
	alerts, err := toJSON(orEmptySlice(u.AlertPreferences))
	if err != nil {
		return err
	}

	query := `
		UPDATE users
		SET email = $2, name = $3, integration_status = $4, default_domain = $5,
			dataplane_user_id = $6, dataplane_role_id = $7, credential = $8, credential_expiry = $9,
			provider_key = $10, preferences = $11, alert_preferences = $12, updated_at = $13
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		u.ID, u.Email, u.Name, u.IntegrationStatus, u.DefaultDomain,
		u.DataPlaneUserID, u.DataPlaneRoleID, u.Credential, nullTime(u.CredentialExpiry),
		u.ProviderKey, prefs, alerts, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return affected(tag, "user "+u.ID)
}

// BeginRoleChange flags the user while a role change propagates
func (r *UserRepository) BeginRoleChange(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET role_updating = TRUE, updated_at = NOW() WHERE id = $1 AND NOT role_updating`, id)
	if err != nil {
		return fmt.Errorf("failed to begin role change: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return domain.Conflict("a role change is already in progress for user %s", id)
	}
	return nil
}

// FinishRoleChange stores the new role and clears the in-progress flag
func (r *UserRepository) FinishRoleChange(ctx context.Context, id string, role domain.Role) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET role = $2, role_updating = FALSE, updated_at = NOW() WHERE id = $1`, id, role)
	if err != nil {
		return fmt.Errorf("failed to finish role change: %w", err)
	}
	return affected(tag, "user "+id)
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	var expiry *time.Time
	var prefs, alerts []byte
	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.Role, &u.RoleUpdating, &u.IntegrationStatus, &u.DefaultDomain,
		&u.DataPlaneUserID, &u.DataPlaneRoleID, &u.Credential, &expiry, &u.ProviderKey,
		&prefs, &alerts, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expiry != nil {
		u.CredentialExpiry = *expiry
	}
	if err := fromJSON(prefs, &u.Preferences); err != nil {
		return nil, err
	}
	if err := fromJSON(alerts, &u.AlertPreferences); err != nil {
		return nil, err
	}
	return &u, nil
}
