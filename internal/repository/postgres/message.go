package postgres

import (
	"context"
	"fmt"

	"github.com/Rrens/genai-platform/internal/domain"
)

const messageColumns = `session_id, message_id, type, time, data, metadata, response_time, review_required, reviewed`

// MessageRepository implements domain.MessageRepository
type MessageRepository struct {
	db *DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Append(ctx context.Context, m *domain.Message) error {
	metadata, err := toJSON(m.Metadata)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.db.Pool.Exec(ctx, query,
		m.SessionID, m.MessageID, m.Type, m.Time, m.Data, metadata, m.ResponseTime, m.ReviewRequired, m.Reviewed,
	)
	if err != nil {
		return duplicate(err, "message %s already exists", m.MessageID)
	}
	return nil
}

func (r *MessageRepository) History(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	query := `
		SELECT * FROM (
			SELECT ` + messageColumns + ` FROM messages
			WHERE session_id = $1
			ORDER BY time DESC, (type = 'ai') DESC
			LIMIT $2
		) recent
		ORDER BY time ASC, (type = 'ai') ASC
	`
	var lim any
	if limit > 0 {
		lim = limit
	}
	return r.query(ctx, query, sessionID, lim)
}

func (r *MessageRepository) Get(ctx context.Context, sessionID, messageID string) ([]domain.Message, error) {
	query := `
		SELECT ` + messageColumns + ` FROM messages
		WHERE session_id = $1 AND message_id = $2
		ORDER BY type DESC
	`
	messages, err := r.query(ctx, query, sessionID, messageID)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	return messages, nil
}

func (r *MessageRepository) Exists(ctx context.Context, sessionID, messageID string, t domain.MessageType) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE session_id = $1 AND message_id = $2 AND type = $3)`,
		sessionID, messageID, t).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check message: %w", err)
	}
	return exists, nil
}

// SetReviewFlag flips the review flag of the ai message. Setting a flag that
// already holds the requested value is a Conflict.
func (r *MessageRepository) SetReviewFlag(ctx context.Context, sessionID, messageID string, required bool) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE messages SET review_required = $4
		WHERE session_id = $1 AND message_id = $2 AND type = $3 AND review_required <> $4
	`, sessionID, messageID, domain.MessageAI, required)
	if err != nil {
		return fmt.Errorf("failed to update review flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		exists, err := r.Exists(ctx, sessionID, messageID, domain.MessageAI)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
		}
		return domain.Conflict("review flag of message %s is already %t", messageID, required)
	}
	return nil
}

func (r *MessageRepository) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM messages WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

func (r *MessageRepository) query(ctx context.Context, query string, args ...any) ([]domain.Message, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		var metadata []byte
		err := rows.Scan(&m.SessionID, &m.MessageID, &m.Type, &m.Time, &m.Data, &metadata,
			&m.ResponseTime, &m.ReviewRequired, &m.Reviewed)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if err := fromJSON(metadata, &m.Metadata); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
