package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
	// StashOutcome parks a completion that arrived before its conversation
	// id was recorded on a job.
	StashOutcome(ctx context.Context, conversationID string, payload []byte, ttl time.Duration) error
	// TakeOutcome atomically reads and removes a stashed completion.
	TakeOutcome(ctx context.Context, conversationID string) ([]byte, bool, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *RedisCache) StashOutcome(ctx context.Context, conversationID string, payload []byte, ttl time.Duration) error {
	return c.client.Set(ctx, OutcomeStashKey(conversationID), payload, ttl).Err()
}

func (c *RedisCache) TakeOutcome(ctx context.Context, conversationID string) ([]byte, bool, error) {
	val, err := c.client.GetDel(ctx, OutcomeStashKey(conversationID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

var _ Cache = (*RedisCache)(nil)
