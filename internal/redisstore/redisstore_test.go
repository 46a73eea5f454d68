package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewFromClient(client, "arenasync_test", nil), mr
}

func TestStore_SetGetDelete(t *testing.T) {
	store, mr := setupTestStore(t)
	defer mr.Close()

	ctx := context.Background()

	_, ok, err := store.Get(ctx, "item_cache_0")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "item_cache_0", `[{"number":"A"}]`))

	val, ok, err := store.Get(ctx, "item_cache_0")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `[{"number":"A"}]`, val)

	require.NoError(t, store.Delete(ctx, "item_cache_0"))
	_, ok, err = store.Get(ctx, "item_cache_0")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Keys(t *testing.T) {
	store, mr := setupTestStore(t)
	defer mr.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "item_cache_0", "a"))
	require.NoError(t, store.Set(ctx, "item_cache_1", "b"))
	require.NoError(t, store.Set(ctx, "item_cache_manifest", "c"))

	keys, err := store.Keys(ctx, "item_cache_")
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}
