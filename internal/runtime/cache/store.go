package cache

import (
	"context"
	"time"
)

// Entry is a single cached value with its storage and staleness bookkeeping.
type Entry struct {
	Value     any       `json:"value"`
	StoredAt  time.Time `json:"storedAt"`
	RefreshAt time.Time `json:"refreshAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// FillFunc computes a fresh value to store under a cache key. CachedInvoker
// supplies one backed by Invoker.Invoke.
type FillFunc func(ctx context.Context) (any, error)

// Store is the external TTL/TTR key-value collaborator spec.md's GLOSSARY
// names CacheStore: "get(fill)", "markToRefresh", "unset". Get implements
// stale-while-revalidate: fresh entries are returned as-is; stale-but-live
// entries (past TTR, within TTL) are returned immediately while fill runs
// asynchronously to repopulate; absent entries block on a synchronous fill.
type Store interface {
	// Get returns the cached value for key, invoking fill per the
	// stale-while-revalidate contract described above. hit reports whether
	// an entry (fresh or stale) was already present.
	Get(ctx context.Context, namespace, key string, fill FillFunc) (value any, hit bool, err error)
	// MarkToRefresh makes the entry(ies) matching namespace/keys eligible to
	// trigger an asynchronous refill on their next Get (spec §5: "renders
	// subsequent get calls eligible to trigger asynchronous refill on next
	// access").
	MarkToRefresh(ctx context.Context, namespace string, keys []string) (any, error)
	// Unset evicts the entry(ies) matching namespace/keys. Total and
	// immediately visible (spec §5).
	Unset(ctx context.Context, namespace string, keys []string) (any, error)
	// Ping reports whether the store is reachable, for /healthz.
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Tuning carries the TTL/TTR/operation-timeout knobs spec §6 names.
type Tuning struct {
	TTL     time.Duration
	TTR     time.Duration
	Timeout time.Duration
}
