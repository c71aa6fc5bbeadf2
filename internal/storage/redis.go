package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/gateway-fm/clicker/internal/session"
)

// RedisKeyPrefix namespaces session blobs in a shared Redis.
const RedisKeyPrefix = "clicker:"

// RedisBlobStore keeps session blobs in Redis.
type RedisBlobStore struct {
	client *redis.Client
}

// NewRedisBlobStore creates a store backed by the Redis at addr.
func NewRedisBlobStore(addr, password string, db int) *RedisBlobStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisBlobStore{client: rdb}
}

func redisKey(key string) string {
	return RedisKeyPrefix + key
}

// Ping checks that Redis is reachable.
func (s *RedisBlobStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *RedisBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	blob, err := s.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return blob, nil
}

func (s *RedisBlobStore) Put(ctx context.Context, key string, blob []byte) error {
	if err := s.client.Set(ctx, redisKey(key), blob, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisBlobStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *RedisBlobStore) Close() error {
	return s.client.Close()
}
