package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the cache with a redis deployment (single node or
// cluster via the universal client).
type RedisStore struct {
	client redis.UniversalClient
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisOptions)

type redisOptions struct {
	addrs    []string
	username string
	password string
	db       int
}

// WithAddrs sets the comma-separated redis addresses.
func WithAddrs(addrs string) RedisOption {
	return func(o *redisOptions) {
		o.addrs = strings.Split(addrs, ",")
	}
}

// WithCredentials sets the redis username and password.
func WithCredentials(username, password string) RedisOption {
	return func(o *redisOptions) {
		o.username = username
		o.password = password
	}
}

// WithDatabase selects the redis logical database.
func WithDatabase(db int) RedisOption {
	return func(o *redisOptions) {
		o.db = db
	}
}

// ErrAddrMissing is returned when no redis address was configured.
var ErrAddrMissing = errors.New("redis addresses must be specified")

// NewRedisStore connects a RedisStore.
func NewRedisStore(opts ...RedisOption) (*RedisStore, error) {
	options := &redisOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if len(options.addrs) == 0 {
		return nil, ErrAddrMissing
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    options.addrs,
		Username: options.username,
		Password: options.password,
		DB:       options.db,
	})
	return &RedisStore{client: client}, nil
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	return value, err
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.client.TTL(ctx, key).Result()
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (s *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.SAdd(ctx, key, args...).Err()
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.client.SMembers(ctx, key).Result()
}

func (s *RedisStore) FlushAll(ctx context.Context) error {
	return s.client.FlushAll(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
