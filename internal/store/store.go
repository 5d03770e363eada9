// Package store provides the TTL key/value stores behind the cache fast path
// and the export result store. Both are plain Redis strings under a
// per-role key prefix.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes of the two stores.
const (
	CachePrefix  = "cache:"
	ResultPrefix = "results:"
)

// Default lifetimes of the two stores.
const (
	DefaultCacheTTL  = time.Hour
	DefaultResultTTL = 7 * 24 * time.Hour
)

// Store is a TTL key/value store. Get reports ok=false for a missing or
// expired key.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Delete(ctx context.Context, key string) error
}

// StoreError wraps a failure of the backing Redis.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// RedisStore is a Store on top of go-redis.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore returns a store whose keys all live under prefix.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// Set writes value under key. A non-positive ttl keeps the key forever.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.rdb.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return &StoreError{Op: "set", Key: key, Err: err}
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &StoreError{Op: "get", Key: key, Err: err}
	}
	return b, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.prefix+key).Err(); err != nil {
		return &StoreError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// SetJSON marshals v and writes it under key.
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal %q: %w", key, err)
	}
	return s.Set(ctx, key, b, ttl)
}

// GetJSON reads key into v. ok is false when the key is absent.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	b, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("json unmarshal %q: %w", key, err)
	}
	return true, nil
}
