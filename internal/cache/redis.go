package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "jobboard:cache:"

// RedisBackend keeps cache entries as plain redis strings.
type RedisBackend struct {
	client redis.Cmdable
	prefix string
}

// NewRedisBackend returns a backend that namespaces keys with prefix.
func NewRedisBackend(client redis.Cmdable, prefix string) (*RedisBackend, error) {
	if isNilRedisClient(client) {
		return nil, errors.New("cache: redis client is required")
	}
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}, nil
}

func isNilRedisClient(client redis.Cmdable) bool {
	switch typed := client.(type) {
	case nil:
		return true
	case *redis.Client:
		return typed == nil
	case *redis.ClusterClient:
		return typed == nil
	case *redis.Ring:
		return typed == nil
	default:
		return false
	}
}

// NewRedisClient parses redisURL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

func (b *RedisBackend) Load(ctx context.Context, key string) (string, bool, error) {
	value, err := b.client.Get(ctx, b.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (b *RedisBackend) Store(ctx context.Context, key, value string) error {
	return b.client.Set(ctx, b.prefix+key, value, 0).Err()
}
