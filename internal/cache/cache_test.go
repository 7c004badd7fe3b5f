package cache_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/cache"
)

func TestJSONRoundTripAndScopedDelete(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := cache.New(client, time.Minute)
	ctx := context.Background()
	a, b := cache.KeyShop(uuid.New()), cache.KeyShop(uuid.New())

	require.NoError(t, c.SetJSON(ctx, a, map[string]int{"v": 1}))
	require.NoError(t, c.SetJSON(ctx, b, map[string]int{"v": 2}))
	require.NoError(t, c.Delete(ctx, a))

	var got map[string]int
	ok, err := c.GetJSON(ctx, a, &got)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = c.GetJSON(ctx, b, &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, got["v"])

	mr.FastForward(2 * time.Minute)
	ok, err = c.GetJSON(ctx, b, &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNilClientIsNoop(t *testing.T) {
	c := cache.New(nil, time.Minute)
	var v int
	ok, err := c.GetJSON(context.Background(), "k", &v)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, c.SetJSON(context.Background(), "k", 1))
	require.NoError(t, c.Delete(context.Background(), "k"))
}
