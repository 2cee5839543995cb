package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryStore struct {
	tuning Tuning

	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemory builds an in-process Store, used for the "memory" cache backend
// (the default when no backend is configured), for deployments that want
// caching without Redis.
func NewMemory(tuning Tuning) Store {
	if tuning.TTL <= 0 {
		tuning.TTL = 30 * 24 * time.Hour
	}
	if tuning.TTR <= 0 {
		tuning.TTR = tuning.TTL
	}
	return &memoryStore{tuning: tuning, entries: make(map[string]Entry)}
}

func (c *memoryStore) Get(ctx context.Context, namespace, key string, fill FillFunc) (any, bool, error) {
	fullKey := namespaceKey(namespace, key)
	now := time.Now()

	c.mu.Lock()
	entry, found := c.entries[fullKey]
	if found && now.After(entry.ExpiresAt) {
		delete(c.entries, fullKey)
		found = false
	}
	c.mu.Unlock()

	if !found {
		value, err := fill(ctx)
		if err != nil {
			return nil, false, err
		}
		c.store(fullKey, value, now)
		return value, false, nil
	}

	if now.After(entry.RefreshAt) {
		go func() {
			value, err := fill(context.Background())
			if err != nil {
				return
			}
			c.store(fullKey, value, time.Now())
		}()
	}
	return entry.Value, true, nil
}

func (c *memoryStore) store(fullKey string, value any, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fullKey] = Entry{
		Value:     value,
		StoredAt:  now,
		RefreshAt: now.Add(c.tuning.TTR),
		ExpiresAt: now.Add(c.tuning.TTL),
	}
}

func (c *memoryStore) MarkToRefresh(_ context.Context, namespace string, keys []string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	affected := 0
	for _, k := range matchKeys(c.entries, namespace, keys) {
		entry := c.entries[k]
		entry.RefreshAt = now
		c.entries[k] = entry
		affected++
	}
	return map[string]any{"affected": affected}, nil
}

func (c *memoryStore) Unset(_ context.Context, namespace string, keys []string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	affected := 0
	for _, k := range matchKeys(c.entries, namespace, keys) {
		delete(c.entries, k)
		affected++
	}
	return map[string]any{"affected": affected}, nil
}

func (c *memoryStore) Ping(context.Context) error { return nil }

func (c *memoryStore) Close(context.Context) error { return nil }

func matchKeys(entries map[string]Entry, namespace string, keys []string) []string {
	prefix := namespace + "\x00"
	if len(keys) == 0 {
		var all []string
		for k := range entries {
			if strings.HasPrefix(k, prefix) {
				all = append(all, k)
			}
		}
		return all
	}
	var matched []string
	for _, key := range keys {
		full := namespaceKey(namespace, key)
		if _, ok := entries[full]; ok {
			matched = append(matched, full)
		}
	}
	return matched
}

func namespaceKey(namespace, key string) string {
	return namespace + "\x00" + key
}
