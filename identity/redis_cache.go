package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "gateway:identity:"

// RedisCache shares verified identities between gateway replicas
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a RedisCache from a redis:// URL
func NewRedisCache(url string) (*RedisCache, error) {
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisCacheFromClient(redis.NewClient(opts)), nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get reads an identity; a missing key is a miss, not an error
func (c *RedisCache) Get(ctx context.Context, key string) (*VerifiedIdentity, bool, error) {
	data, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var id VerifiedIdentity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, false, fmt.Errorf("decode cached identity: %w", err)
	}
	return &id, true, nil
}

// Set stores an identity with ttl
func (c *RedisCache) Set(ctx context.Context, key string, id *VerifiedIdentity, ttl time.Duration) error {
	if ttl <= 0 || id == nil {
		return nil
	}
	data, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks connectivity
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying client
func (c *RedisCache) Close() error {
	return c.client.Close()
}
