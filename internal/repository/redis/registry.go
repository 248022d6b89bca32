package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/redis/go-redis/v9"
)

const connectionPrefix = "conn:"

// ConnectionRegistry records which gateway instance owns a live socket
type ConnectionRegistry struct {
	client *Client
	ttl    time.Duration
}

// NewConnectionRegistry creates a registry whose entries expire after ttl
// unless refreshed
func NewConnectionRegistry(client *Client, ttl time.Duration) *ConnectionRegistry {
	return &ConnectionRegistry{client: client, ttl: ttl}
}

// Register binds connectionID to the management endpoint of its gateway
func (r *ConnectionRegistry) Register(ctx context.Context, connectionID, endpoint string) error {
	if err := r.client.rdb.Set(ctx, connectionPrefix+connectionID, endpoint, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to register connection: %w", err)
	}
	return nil
}

// Refresh extends the lifetime of a registration
func (r *ConnectionRegistry) Refresh(ctx context.Context, connectionID string) error {
	return r.client.rdb.Expire(ctx, connectionPrefix+connectionID, r.ttl).Err()
}

// Lookup returns the owning endpoint or domain.ErrNotFound
func (r *ConnectionRegistry) Lookup(ctx context.Context, connectionID string) (string, error) {
	endpoint, err := r.client.rdb.Get(ctx, connectionPrefix+connectionID).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("connection %s: %w", connectionID, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up connection: %w", err)
	}
	return endpoint, nil
}

// Unregister drops a registration
func (r *ConnectionRegistry) Unregister(ctx context.Context, connectionID string) error {
	return r.client.rdb.Del(ctx, connectionPrefix+connectionID).Err()
}
