package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// lockTTL bounds how long a crashed winner can hold a lock.
	lockTTL = 10 * time.Second
	// lockWait bounds how long a loser waits for the winner's result
	// before computing its own uncached answer.
	lockWait = 2 * time.Second
)

// AcquireLock attempts to take the named lock. It returns a release
// function when the lock was acquired.
func (c *Cache) AcquireLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	if ttl <= 0 {
		ttl = lockTTL
	}
	lockKey := c.key("lock:" + name)
	token := lockToken()
	acquired, err := c.store.SetNX(ctx, lockKey, token, ttl)
	if err != nil || !acquired {
		return nil, false, err
	}
	release := func() {
		// Only drop the lock if it is still ours; an expired lock may
		// have been re-acquired by another worker.
		current, err := c.store.Get(context.WithoutCancel(ctx), lockKey)
		if err != nil || current != token {
			return
		}
		if err := c.store.Del(context.WithoutCancel(ctx), lockKey); err != nil {
			c.logger.Warn("lock release failed", "lock", name, "error", err)
		}
	}
	return release, true, nil
}

// WithLock is GetOrSet with stampede protection: on a miss only one
// caller runs factory while the rest wait for its cached result. A
// waiter that exhausts its patience, or any caller when the lock
// backend misbehaves, computes its own answer without caching it.
func (c *Cache) WithLock(ctx context.Context, key string, ttl time.Duration, factory func(context.Context) (json.RawMessage, error)) (json.RawMessage, bool, error) {
	if payload, ok := c.Get(ctx, key); ok {
		return payload, true, nil
	}

	release, acquired, err := c.AcquireLock(ctx, key, lockTTL)
	if err != nil {
		// Fail open: serve uncached rather than error.
		c.logger.WarnContext(ctx, "cache lock failed", "key", key, "error", err)
		payload, ferr := factory(ctx)
		return payload, false, ferr
	}

	if acquired {
		defer release()
		payload, err := factory(ctx)
		if err != nil {
			return nil, false, err
		}
		c.Set(ctx, key, payload, ttl)
		return payload, false, nil
	}

	// Another caller is computing this key. Poll for its result.
	var payload json.RawMessage
	poll := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(50*time.Millisecond), backoff.WithMaxElapsedTime(lockWait)),
		8,
	), ctx)
	err = backoff.Retry(func() error {
		if cached, ok := c.Get(ctx, key); ok {
			payload = cached
			return nil
		}
		return errors.New("pending")
	}, poll)
	if err == nil {
		return payload, true, nil
	}

	// The winner is slow or gone. Compute without caching so the
	// eventual winner still owns the cache write.
	payload, err = factory(ctx)
	return payload, false, err
}
