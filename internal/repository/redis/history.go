package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const historyCachePrefix = "history:"

// CachedMessageRepository fronts a message log with a Redis cache of the
// recent history window. Writes invalidate the session's cached window.
type CachedMessageRepository struct {
	domain.MessageRepository
	client *Client
	ttl    time.Duration
}

// NewCachedMessageRepository wraps next with a history cache
func NewCachedMessageRepository(next domain.MessageRepository, client *Client, ttl time.Duration) *CachedMessageRepository {
	return &CachedMessageRepository{MessageRepository: next, client: client, ttl: ttl}
}

func historyKey(sessionID string, limit int) string {
	return fmt.Sprintf("%s%s:%d", historyCachePrefix, sessionID, limit)
}

// History serves the window from cache, filling it on a miss
func (r *CachedMessageRepository) History(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	key := historyKey(sessionID, limit)

	data, err := r.client.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var messages []domain.Message
		if err := json.Unmarshal(data, &messages); err == nil {
			return messages, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("history cache read failed")
	}

	messages, err := r.MessageRepository.History(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(messages); err == nil {
		if err := r.client.rdb.Set(ctx, key, data, r.ttl).Err(); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("history cache write failed")
		}
	}
	return messages, nil
}

func (r *CachedMessageRepository) Append(ctx context.Context, m *domain.Message) error {
	if err := r.MessageRepository.Append(ctx, m); err != nil {
		return err
	}
	r.invalidate(ctx, m.SessionID)
	return nil
}

func (r *CachedMessageRepository) SetReviewFlag(ctx context.Context, sessionID, messageID string, required bool) error {
	if err := r.MessageRepository.SetReviewFlag(ctx, sessionID, messageID, required); err != nil {
		return err
	}
	r.invalidate(ctx, sessionID)
	return nil
}

func (r *CachedMessageRepository) DeleteSession(ctx context.Context, sessionID string) error {
	if err := r.MessageRepository.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	r.invalidate(ctx, sessionID)
	return nil
}

func (r *CachedMessageRepository) invalidate(ctx context.Context, sessionID string) {
	pattern := historyCachePrefix + sessionID + ":*"
	iter := r.client.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("history cache scan failed")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := r.client.rdb.Del(ctx, keys...).Err(); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("history cache invalidation failed")
	}
}
