// Package cache implements the read-through result cache: TTL'd JSON values
// over a distributed key-value store, tag-based bulk invalidation, and a
// stampede-prevention lock. The store itself is a narrow interface with
// redis and in-memory implementations; every operation on it is atomic.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is the miss sentinel returned by Store.Get.
var ErrKeyNotFound = errors.New("key not found")

// Store is the key-value surface the cache layer needs: plain get/set with
// TTL, set-if-not-exists for locks, and set membership for tags.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	FlushAll(ctx context.Context) error
	Close() error
}
