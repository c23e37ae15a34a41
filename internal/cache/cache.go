package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Cache wraps a Store with key prefixing, default TTLs and fail-open
// error handling: a broken backend degrades responses to uncached
// rather than failing them.
type Cache struct {
	store      Store
	prefix     string
	defaultTTL time.Duration
	logger     *slog.Logger
}

// Config carries cache tuning knobs.
type Config struct {
	Prefix     string
	DefaultTTL time.Duration
}

// New creates a Cache over the given store.
func New(store Store, cfg Config, logger *slog.Logger) *Cache {
	if cfg.Prefix == "" {
		cfg.Prefix = "query:"
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:      store,
		prefix:     cfg.Prefix,
		defaultTTL: cfg.DefaultTTL,
		logger:     logger,
	}
}

func (c *Cache) key(key string) string {
	return c.prefix + key
}

// Get returns the cached payload for key. A backend failure is logged
// and reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	value, err := c.store.Get(ctx, c.key(key))
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			c.logger.WarnContext(ctx, "cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return json.RawMessage(value), true
}

// Set stores payload under key. A zero ttl uses the default TTL.
// Backend failures are logged and swallowed.
func (c *Cache) Set(ctx context.Context, key string, payload json.RawMessage, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.store.Set(ctx, c.key(key), string(payload), ttl); err != nil {
		c.logger.WarnContext(ctx, "cache set failed", "key", key, "error", err)
	}
}

// Delete removes the given keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.key(k)
	}
	return c.store.Del(ctx, prefixed...)
}

// DeletePattern removes every key matching the glob pattern.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	keys, err := c.store.Keys(ctx, c.key(pattern))
	if err != nil {
		return 0, fmt.Errorf("list keys: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.store.Del(ctx, keys...); err != nil {
		return 0, fmt.Errorf("delete keys: %w", err)
	}
	return len(keys), nil
}

// Exists reports whether key is present.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	return c.store.Exists(ctx, c.key(key))
}

// TTL returns the remaining lifetime of key.
func (c *Cache) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.store.TTL(ctx, c.key(key))
}

// Flush clears the whole backend.
func (c *Cache) Flush(ctx context.Context) error {
	return c.store.FlushAll(ctx)
}

// Close releases the backing store.
func (c *Cache) Close() error {
	return c.store.Close()
}

// GetOrSet returns the cached payload for key, or invokes factory,
// caches its result and returns it. The cached return reports whether
// the payload came from the cache. Factory errors are returned as-is
// and nothing is cached.
func (c *Cache) GetOrSet(ctx context.Context, key string, ttl time.Duration, factory func(context.Context) (json.RawMessage, error)) (json.RawMessage, bool, error) {
	if payload, ok := c.Get(ctx, key); ok {
		return payload, true, nil
	}
	payload, err := factory(ctx)
	if err != nil {
		return nil, false, err
	}
	c.Set(ctx, key, payload, ttl)
	return payload, false, nil
}

// Tag associates key with the given tags so a later InvalidateTag can
// drop every key written under the tag. Tag sets expire a little after
// the payloads they track so they cannot accumulate forever.
func (c *Cache) Tag(ctx context.Context, key string, ttl time.Duration, tags ...string) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	for _, tag := range tags {
		tagKey := c.key("tag:" + tag)
		if err := c.store.SAdd(ctx, tagKey, c.key(key)); err != nil {
			c.logger.WarnContext(ctx, "cache tag failed", "tag", tag, "error", err)
			continue
		}
		if err := c.store.Expire(ctx, tagKey, ttl+time.Minute); err != nil {
			c.logger.WarnContext(ctx, "cache tag expire failed", "tag", tag, "error", err)
		}
	}
}

// InvalidateTag deletes every key recorded under tag, then the tag set
// itself. Invalidating an unknown tag is a no-op.
func (c *Cache) InvalidateTag(ctx context.Context, tag string) (int, error) {
	tagKey := c.key("tag:" + tag)
	members, err := c.store.SMembers(ctx, tagKey)
	if err != nil {
		return 0, fmt.Errorf("read tag %s: %w", tag, err)
	}
	if len(members) > 0 {
		if err := c.store.Del(ctx, members...); err != nil {
			return 0, fmt.Errorf("invalidate tag %s: %w", tag, err)
		}
	}
	if err := c.store.Del(ctx, tagKey); err != nil {
		return 0, fmt.Errorf("drop tag %s: %w", tag, err)
	}
	return len(members), nil
}

// lockToken generates the fencing value stored under a lock key.
func lockToken() string {
	return uuid.NewString()
}
