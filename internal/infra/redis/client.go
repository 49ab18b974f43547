package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for the batch retry pipeline: a per-batch
// queue of failed item IDs plus progress counters, so a later run can pick
// up exactly the failed subset.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func retryKey(batchID string) string {
	return fmt.Sprintf("genflow:failed:%s", batchID)
}

func progressKey(batchID string) string {
	return fmt.Sprintf("genflow:progress:%s", batchID)
}

// PushFailed appends a failed item ID to the batch's retry queue.
func (c *Client) PushFailed(ctx context.Context, batchID, itemID string) error {
	if err := c.rdb.RPush(ctx, retryKey(batchID), itemID).Err(); err != nil {
		return fmt.Errorf("rpush failed: %w", err)
	}
	return nil
}

// RemoveFailed removes an item ID from the batch's retry queue, typically
// after a successful retry.
func (c *Client) RemoveFailed(ctx context.Context, batchID, itemID string) error {
	if err := c.rdb.LRem(ctx, retryKey(batchID), 0, itemID).Err(); err != nil {
		return fmt.Errorf("lrem failed: %w", err)
	}
	return nil
}

// ListFailed returns all failed item IDs queued for the batch.
func (c *Client) ListFailed(ctx context.Context, batchID string) ([]string, error) {
	ids, err := c.rdb.LRange(ctx, retryKey(batchID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange failed: %w", err)
	}
	return ids, nil
}

// ClearFailed removes the batch's retry queue.
func (c *Client) ClearFailed(ctx context.Context, batchID string) error {
	return c.rdb.Del(ctx, retryKey(batchID)).Err()
}

// SetProgress records completed/total counters for a batch run.
func (c *Client) SetProgress(ctx context.Context, batchID string, completed, total int, ttl time.Duration) error {
	key := progressKey(batchID)
	if err := c.rdb.HSet(ctx, key, "completed", completed, "total", total).Err(); err != nil {
		return fmt.Errorf("hset failed: %w", err)
	}
	if ttl > 0 {
		return c.rdb.Expire(ctx, key, ttl).Err()
	}
	return nil
}

// GetProgress returns the completed/total counters for a batch run.
func (c *Client) GetProgress(ctx context.Context, batchID string) (completed, total int, err error) {
	vals, err := c.rdb.HGetAll(ctx, progressKey(batchID)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("hgetall failed: %w", err)
	}
	if v, ok := vals["completed"]; ok {
		completed, _ = strconv.Atoi(v)
	}
	if v, ok := vals["total"]; ok {
		total, _ = strconv.Atoi(v)
	}
	return completed, total, nil
}
