package cache

import (
	"context"
	"path"
	"sync"
	"time"
)

// MemoryStore is a process-local Store used in tests and single-node
// deployments where redis is not configured. Expired entries are
// reaped lazily on access.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	sets    map[string]*memorySet
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type memorySet struct {
	members   map[string]struct{}
	expiresAt time.Time
}

func (s *memorySet) expired(now time.Time) bool {
	return !s.expiresAt.IsZero() && now.After(s.expiresAt)
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		sets:    make(map[string]*memorySet),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	if entry.expired(time.Now()) {
		delete(s.entries, key)
		return "", ErrKeyNotFound
	}
	return entry.value, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{value: value, expiresAt: expiry(ttl)}
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key]; ok && !entry.expired(time.Now()) {
		return false, nil
	}
	s.entries[key] = memoryEntry{value: value, expiresAt: expiry(ttl)}
	return true, nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.entries, key)
		delete(s.sets, key)
	}
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		set, ok := s.sets[key]
		if !ok {
			return false, nil
		}
		if set.expired(time.Now()) {
			delete(s.sets, key)
			return false, nil
		}
		return true, nil
	}
	if entry.expired(time.Now()) {
		delete(s.entries, key)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	if entry, ok := s.entries[key]; ok && !entry.expired(now) {
		if entry.expiresAt.IsZero() {
			return -1 * time.Second, nil
		}
		return time.Until(entry.expiresAt), nil
	}
	if set, ok := s.sets[key]; ok && !set.expired(now) {
		if set.expiresAt.IsZero() {
			return -1 * time.Second, nil
		}
		return time.Until(set.expiresAt), nil
	}
	return -2 * time.Second, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if entry, ok := s.entries[key]; ok && !entry.expired(now) {
		entry.expiresAt = expiry(ttl)
		s.entries[key] = entry
		return nil
	}
	if set, ok := s.sets[key]; ok && !set.expired(now) {
		set.expiresAt = expiry(ttl)
	}
	return nil
}

func (s *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var keys []string
	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *MemoryStore) SAdd(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok || set.expired(time.Now()) {
		set = &memorySet{members: make(map[string]struct{})}
		s.sets[key] = set
	}
	for _, m := range members {
		set.members[m] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		return nil, nil
	}
	if set.expired(time.Now()) {
		delete(s.sets, key)
		return nil, nil
	}
	members := make([]string, 0, len(set.members))
	for m := range set.members {
		members = append(members, m)
	}
	return members, nil
}

func (s *MemoryStore) FlushAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]memoryEntry)
	s.sets = make(map[string]*memorySet)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}
