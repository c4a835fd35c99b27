package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces credential keys in a shared Redis.
const DefaultRedisPrefix = "atlasauth:secret:"

// RedisStore keeps secrets in Redis, for deployments where several
// processes share one credential store.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store using client; an empty prefix selects
// DefaultRedisPrefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get secret: %w", err)
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set secret: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Del(ctx, r.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete secret: %w", err)
	}
	return n > 0, nil
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
