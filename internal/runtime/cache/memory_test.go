package cache_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fnrelay/lambdagate/internal/runtime/cache"
)

func TestMemoryGetFillsOnMiss(t *testing.T) {
	store := cache.NewMemory(cache.Tuning{TTL: time.Hour, TTR: time.Hour})
	var calls int32
	fill := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "value", nil
	}

	value, hit, err := store.Get(context.Background(), "host", "key", fill)
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, "value", value)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))

	value, hit, err = store.Get(context.Background(), "host", "key", fill)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, "value", value)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestMemoryMarkToRefreshTriggersAsyncRefill(t *testing.T) {
	store := cache.NewMemory(cache.Tuning{TTL: time.Hour, TTR: time.Hour})
	var calls int32
	fill := func(context.Context) (any, error) {
		n := atomic.AddInt32(&calls, 1)
		return n, nil
	}

	_, _, err := store.Get(context.Background(), "host", "key", fill)
	require.NoError(t, err)

	_, err = store.MarkToRefresh(context.Background(), "host", []string{"key"})
	require.NoError(t, err)

	value, hit, err := store.Get(context.Background(), "host", "key", fill)
	require.NoError(t, err)
	require.True(t, hit)
	require.EqualValues(t, 1, value)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryUnsetEvictsImmediately(t *testing.T) {
	store := cache.NewMemory(cache.Tuning{TTL: time.Hour, TTR: time.Hour})
	fill := func(context.Context) (any, error) { return "value", nil }

	_, _, err := store.Get(context.Background(), "host", "key", fill)
	require.NoError(t, err)

	_, err = store.Unset(context.Background(), "host", []string{"key"})
	require.NoError(t, err)

	_, hit, err := store.Get(context.Background(), "host", "key", fill)
	require.NoError(t, err)
	require.False(t, hit)
}

func TestMemoryUnsetWholeNamespace(t *testing.T) {
	store := cache.NewMemory(cache.Tuning{TTL: time.Hour, TTR: time.Hour})
	fill := func(context.Context) (any, error) { return "value", nil }

	_, _, err := store.Get(context.Background(), "host", "a", fill)
	require.NoError(t, err)
	_, _, err = store.Get(context.Background(), "host", "b", fill)
	require.NoError(t, err)

	result, err := store.Unset(context.Background(), "host", nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"affected": 2}, result)
}
