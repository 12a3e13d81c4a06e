package storage

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisBlob stores the snapshot as one value under a fixed key.
type RedisBlob struct {
	client *redis.Client
	key    string
}

// NewRedisBlob creates a Redis-backed blob store and verifies connectivity.
func NewRedisBlob(addr, password string, db int, key string) (*RedisBlob, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("storage: failed to connect to redis: %w", err)
	}

	return &RedisBlob{client: client, key: key}, nil
}

// NewRedisBlobWithClient wraps an existing client, useful for tests.
func NewRedisBlobWithClient(client *redis.Client, key string) *RedisBlob {
	return &RedisBlob{client: client, key: key}
}

func (r *RedisBlob) Load(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: redis get %s: %w", r.key, err)
	}
	return data, nil
}

func (r *RedisBlob) Save(ctx context.Context, data []byte) error {
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("storage: redis set %s: %w", r.key, err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *RedisBlob) Close() error {
	return r.client.Close()
}
