package cache_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/fnrelay/lambdagate/internal/runtime/cache"
)

func TestRedisGetFillsOnMiss(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	store, err := cache.NewRedis(server.Addr(), cache.Tuning{TTL: time.Hour, TTR: time.Hour}, cache.RedisTLS{})
	require.NoError(t, err)
	defer store.Close(context.Background())

	var calls int32
	fill := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "value", nil
	}

	value, hit, err := store.Get(context.Background(), "host", "key", fill)
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, "value", value)

	value, hit, err = store.Get(context.Background(), "host", "key", fill)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, "value", value)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestRedisEntryExpiresAfterTTL(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	store, err := cache.NewRedis(server.Addr(), cache.Tuning{TTL: 500 * time.Millisecond, TTR: 500 * time.Millisecond}, cache.RedisTLS{})
	require.NoError(t, err)
	defer store.Close(context.Background())

	fill := func(context.Context) (any, error) { return "value", nil }
	_, _, err = store.Get(context.Background(), "host", "key", fill)
	require.NoError(t, err)

	server.FastForward(time.Second)

	var calls int32
	refill := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "refilled", nil
	}
	value, hit, err := store.Get(context.Background(), "host", "key", refill)
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, "refilled", value)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestRedisMarkToRefreshTriggersAsyncRefill(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	store, err := cache.NewRedis(server.Addr(), cache.Tuning{TTL: time.Hour, TTR: time.Hour}, cache.RedisTLS{})
	require.NoError(t, err)
	defer store.Close(context.Background())

	var calls int32
	fill := func(context.Context) (any, error) {
		n := atomic.AddInt32(&calls, 1)
		return n, nil
	}

	_, _, err = store.Get(context.Background(), "host", "key", fill)
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

func TestRedisUnsetEvictsImmediately(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	store, err := cache.NewRedis(server.Addr(), cache.Tuning{TTL: time.Hour, TTR: time.Hour}, cache.RedisTLS{})
	require.NoError(t, err)
	defer store.Close(context.Background())

	fill := func(context.Context) (any, error) { return "value", nil }
	_, _, err = store.Get(context.Background(), "host", "key", fill)
	require.NoError(t, err)

	_, err = store.Unset(context.Background(), "host", []string{"key"})
	require.NoError(t, err)

	_, hit, err := store.Get(context.Background(), "host", "key", fill)
	require.NoError(t, err)
	require.False(t, hit)
}

func TestRedisUnsetWholeNamespace(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	store, err := cache.NewRedis(server.Addr(), cache.Tuning{TTL: time.Hour, TTR: time.Hour}, cache.RedisTLS{})
	require.NoError(t, err)
	defer store.Close(context.Background())

	fill := func(context.Context) (any, error) { return "value", nil }
	_, _, err = store.Get(context.Background(), "host", "a", fill)
	require.NoError(t, err)
	_, _, err = store.Get(context.Background(), "host", "b", fill)
	require.NoError(t, err)

	result, err := store.Unset(context.Background(), "host", nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"affected": 2}, result)
}
