package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/coinpick/internal/domain"
	"github.com/redis/go-redis/v9"
)

// KVStore implements domain.KVStore with plain GET/SET under a key prefix.
// Values never expire.
type KVStore struct {
	rdb    *redis.Client
	prefix string
}

// NewKVStore namespaces every key under prefix, e.g. "coinpick:player:alice:".
func NewKVStore(c *Client, prefix string) *KVStore {
	return &KVStore{rdb: c.Underlying(), prefix: prefix}
}

// Get returns domain.ErrNotFound for a missing key.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return v, nil
}

// Put stores value without expiry.
func (s *KVStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis: put %s: %w", key, err)
	}
	return nil
}

var _ domain.KVStore = (*KVStore)(nil)
