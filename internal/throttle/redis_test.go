package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, "test:", ttl)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return mr, store
}

func TestRedisStore_LoadMissingIsZero(t *testing.T) {
	_, store := setupMiniredis(t, 0)

	st, err := store.Load(context.Background(), "nope")
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Version)
	assert.False(t, st.Triggered())
}

func TestRedisStore_CompareAndSwap(t *testing.T) {
	_, store := setupMiniredis(t, 0)
	ctx := context.Background()

	ok, err := store.CompareAndSwap(ctx, "s1", 0, State{SuppressionCount: 2})
	require.NoError(t, err)
	require.True(t, ok)

	st, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Version)
	assert.Equal(t, 2, st.SuppressionCount)

	ok, err = store.CompareAndSwap(ctx, "s1", 0, State{SuppressionCount: 5})
	require.NoError(t, err)
	assert.False(t, ok, "stale version must not overwrite")
}

func TestRedisStore_TTL(t *testing.T) {
	mr, store := setupMiniredis(t, time.Minute)
	ctx := context.Background()

	_, err := store.CompareAndSwap(ctx, "s1", 0, State{SuppressionCount: 1})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL("test:s1"))

	mr.FastForward(2 * time.Minute)
	st, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, st.SuppressionCount)
}

func TestRedisStore_WithController(t *testing.T) {
	_, store := setupMiniredis(t, 0)
	ctx := context.Background()
	c := NewController(store, DefaultPolicy())

	require.NoError(t, c.RecordTriggered(ctx, "s1", "th1", "t0"))
	require.NoError(t, c.RecordTurnProcessed(ctx, "s1", "th1", "t1"))

	st, err := c.Snapshot(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.SuppressionCount)
	assert.Equal(t, []string{"t0", "t1"}, st.RecentTurns)
	assert.Equal(t, "th1", st.SuppressedThreadID)
	assert.True(t, st.Triggered())
}
