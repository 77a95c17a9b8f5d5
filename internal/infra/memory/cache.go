package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"adaptive-quiz-service/internal/domain"
)

// Cache is an in-process app.Cache and app.SetCache with per-key expiry.
type Cache struct {
	clock func() time.Time

	mu     sync.Mutex
	values map[string]cachedValue
	sets   map[string]cachedSet
}

type cachedValue struct {
	data      []byte
	expiresAt time.Time
}

type cachedSet struct {
	members   map[string]struct{}
	expiresAt time.Time
}

func NewCache() *Cache {
	return NewCacheWithClock(time.Now)
}

// NewCacheWithClock is useful for deterministic expiry in tests.
func NewCacheWithClock(clock func() time.Time) *Cache {
	return &Cache{
		clock:  clock,
		values: make(map[string]cachedValue),
		sets:   make(map[string]cachedSet),
	}
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.values[key]
	if !ok || c.expired(entry.expiresAt) {
		delete(c.values, key)
		return nil, domain.ErrCacheMiss
	}
	return append([]byte(nil), entry.data...), nil
}

func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = cachedValue{data: append([]byte(nil), value...), expiresAt: c.deadline(ttl)}
	return nil
}

func (c *Cache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.values, key)
		delete(c.sets, key)
	}
	return nil
}

func (c *Cache) ReplaceSet(_ context.Context, key string, members []string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(members) == 0 {
		delete(c.sets, key)
		return nil
	}
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	c.sets[key] = cachedSet{members: set, expiresAt: c.deadline(ttl)}
	return nil
}

// Members returns the set sorted; an absent or expired set is empty.
func (c *Cache) Members(_ context.Context, key string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.sets[key]
	if !ok || c.expired(entry.expiresAt) {
		delete(c.sets, key)
		return nil, nil
	}
	out := make([]string, 0, len(entry.members))
	for m := range entry.members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (c *Cache) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.clock().Add(ttl)
}

func (c *Cache) expired(expiresAt time.Time) bool {
	return !expiresAt.IsZero() && !expiresAt.After(c.clock())
}
