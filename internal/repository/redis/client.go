package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/Rrens/genai-platform/internal/config"
	"github.com/redis/go-redis/v9"
)

// Client holds the shared go-redis connection used by the rate limiter,
// the connection registry and the history cache
type Client struct {
	rdb *redis.Client
}

// NewClient dials Redis and fails fast when it is unreachable
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr(), err)
	}
	return &Client{rdb: rdb}, nil
}

// Wrap adopts an existing go-redis client
func Wrap(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Client exposes the underlying go-redis client
func (c *Client) Client() *redis.Client {
	return c.rdb
}
