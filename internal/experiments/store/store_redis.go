package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "nimbus:"

// RedisStore persists state in Redis under the nimbus: key prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedis constructs a store on an existing client. An empty prefix falls
// back to the default.
func NewRedis(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = redisKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, newPersistError(ErrorStorageUnavailable, key, "read value", err)
	}
	return value, nil
}

// Put uses a single SET, which replaces the value atomically.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return newPersistError(ErrorWriteFailed, key, "set value", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return newPersistError(ErrorWriteFailed, key, "delete value", err)
	}
	return nil
}

// Close is a no-op; the client belongs to the caller.
func (s *RedisStore) Close() error {
	return nil
}
