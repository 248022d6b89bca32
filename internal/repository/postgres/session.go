package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Rrens/genai-platform/internal/domain"
)

// staleQueryAfter releases a processing lock left behind by a crashed turn.
const staleQueryAfter = 30 * time.Minute

const sessionColumns = `user_id, id, client_id, title, start_time, last_modified, expires_at,
	connection_id, connection_start, connection_end, latest_message_id, query_status,
	query_failure_reason, delivery_status, files`

// SessionRepository implements domain.SessionRepository
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	files, err := toJSON(orEmptySlice(s.Files))
	if err != nil {
		return err
	}
	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = r.db.Pool.Exec(ctx, query,
		s.UserID, s.ID, s.ClientID, s.Title, s.StartTime, s.LastModified, s.ExpiresAt,
		s.ConnectionID, s.ConnectionStart, s.ConnectionEnd, s.LatestMessageID, s.QueryStatus,
		s.QueryFailureReason, s.DeliveryStatus, files,
	)
	if err != nil {
		return duplicate(err, "session %s already exists", s.ID)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 AND id = $2`, userID, sessionID)
	s, err := scanSession(row)
	if err != nil {
		return nil, notFound(err, "session "+sessionID)
	}
	return s, nil
}

// List returns the user's live sessions for a client, newest first
func (r *SessionRepository) List(ctx context.Context, userID, clientID string) ([]domain.Session, error) {
	query := `
		SELECT ` + sessionColumns + ` FROM sessions
		WHERE user_id = $1 AND client_id = $2 AND expires_at > NOW()
		ORDER BY last_modified DESC
	`
	return r.query(ctx, query, userID, clientID)
}

func (r *SessionRepository) GetByConnection(ctx context.Context, connectionID string) (*domain.Session, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE connection_id = $1 LIMIT 1`, connectionID)
	s, err := scanSession(row)
	if err != nil {
		return nil, notFound(err, "session for connection "+connectionID)
	}
	return s, nil
}

func (r *SessionRepository) Delete(ctx context.Context, userID, sessionID string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1 AND id = $2`, userID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return affected(tag, "session "+sessionID)
}

// startQuerySQL claims the session for a turn unless one is processing and
// was touched within staleQueryAfter.
const startQuerySQL = `
	UPDATE sessions
	SET query_status = $3, query_failure_reason = '', delivery_status = $4,
		title = CASE WHEN title = $5 AND $6 <> '' THEN $6 ELSE title END,
		expires_at = COALESCE($8, expires_at), last_modified = NOW()
	WHERE user_id = $1 AND id = $2 AND (query_status <> $3 OR last_modified < $7)
`

func (r *SessionRepository) StartQuery(ctx context.Context, userID, sessionID, title string, expiresAt *time.Time) error {
	tag, err := r.db.Pool.Exec(ctx, startQuerySQL,
		userID, sessionID, domain.QueryProcessing, domain.DeliveryPending,
		domain.DefaultSessionTitle, title, time.Now().Add(-staleQueryAfter), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to start query: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, userID, sessionID); err != nil {
			return err
		}
		return domain.Conflict("a message is already being processed in session %s", sessionID)
	}
	return nil
}

func (r *SessionRepository) FinishQuery(ctx context.Context, userID, sessionID string, status domain.QueryStatus, reason, latestMessageID string) error {
	query := `
		UPDATE sessions
		SET query_status = $3, query_failure_reason = $4,
			latest_message_id = CASE WHEN $5 <> '' THEN $5 ELSE latest_message_id END,
			last_modified = NOW()
		WHERE user_id = $1 AND id = $2
	`
	tag, err := r.db.Pool.Exec(ctx, query, userID, sessionID, status, reason, latestMessageID)
	if err != nil {
		return fmt.Errorf("failed to finish query: %w", err)
	}
	return affected(tag, "session "+sessionID)
}

func (r *SessionRepository) UpdateDeliveryStatus(ctx context.Context, userID, sessionID string, status domain.DeliveryStatus) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE sessions SET delivery_status = $3 WHERE user_id = $1 AND id = $2`,
		userID, sessionID, status)
	if err != nil {
		return fmt.Errorf("failed to update delivery status: %w", err)
	}
	return affected(tag, "session "+sessionID)
}

func (r *SessionRepository) BindConnection(ctx context.Context, userID, sessionID, connectionID string, at time.Time) error {
	query := `
		UPDATE sessions
		SET connection_id = $3, connection_start = $4, connection_end = NULL
		WHERE user_id = $1 AND id = $2
	`
	tag, err := r.db.Pool.Exec(ctx, query, userID, sessionID, connectionID, at)
	if err != nil {
		return fmt.Errorf("failed to bind connection: %w", err)
	}
	return affected(tag, "session "+sessionID)
}

func (r *SessionRepository) ReleaseConnection(ctx context.Context, connectionID string, at time.Time) (*domain.Session, error) {
	query := `
		UPDATE sessions
		SET connection_id = '', connection_end = $2
		WHERE connection_id = $1
		RETURNING ` + sessionColumns
	s, err := scanSession(r.db.Pool.QueryRow(ctx, query, connectionID, at))
	if err != nil {
		return nil, notFound(err, "session for connection "+connectionID)
	}
	return s, nil
}

func (r *SessionRepository) AttachFile(ctx context.Context, userID, sessionID, name string) error {
	query := `
		UPDATE sessions
		SET files = CASE WHEN files ? $3 THEN files ELSE files || to_jsonb($3::text) END,
			last_modified = NOW()
		WHERE user_id = $1 AND id = $2
	`
	tag, err := r.db.Pool.Exec(ctx, query, userID, sessionID, name)
	if err != nil {
		return fmt.Errorf("failed to attach file: %w", err)
	}
	return affected(tag, "session "+sessionID)
}

func (r *SessionRepository) DetachFile(ctx context.Context, userID, sessionID, name string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE sessions SET files = files - $3::text, last_modified = NOW() WHERE user_id = $1 AND id = $2`,
		userID, sessionID, name)
	if err != nil {
		return fmt.Errorf("failed to detach file: %w", err)
	}
	return affected(tag, "session "+sessionID)
}

func (r *SessionRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Session, error) {
	query := `
		SELECT ` + sessionColumns + ` FROM sessions
		WHERE expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`
	return r.query(ctx, query, now, limit)
}

func (r *SessionRepository) query(ctx context.Context, query string, args ...any) ([]domain.Session, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var s domain.Session
	var files []byte
	err := row.Scan(
		&s.UserID, &s.ID, &s.ClientID, &s.Title, &s.StartTime, &s.LastModified, &s.ExpiresAt,
		&s.ConnectionID, &s.ConnectionStart, &s.ConnectionEnd, &s.LatestMessageID, &s.QueryStatus,
		&s.QueryFailureReason, &s.DeliveryStatus, &files,
	)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(files, &s.Files); err != nil {
		return nil, err
	}
	s.Files = orEmptySlice(s.Files)
	return &s, nil
}
