package memcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/wharf/pkg/plugins"
)

func TestCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := New(Config{})

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, plugins.ErrCacheMiss)

	value := []byte("hello")
	require.NoError(t, c.Set(ctx, "k", value, plugins.CacheOptions{}))
	value[0] = 'j'

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got), "stored values are copied")
}

func TestCache_Delete(t *testing.T) {
	ctx := context.Background()
	c := New(Config{})

	require.NoError(t, c.Set(ctx, "k", []byte("v"), plugins.CacheOptions{}))
	require.NoError(t, c.Delete(ctx, "k"))

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, plugins.ErrCacheMiss)
	assert.NoError(t, c.Delete(ctx, "k"))
}

func TestCache_PerEntryTTL(t *testing.T) {
	ctx := context.Background()
	c := New(Config{TTL: time.Hour})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "short", []byte("a"), plugins.CacheOptions{TTL: time.Minute}))
	require.NoError(t, c.Set(ctx, "long", []byte("b"), plugins.CacheOptions{TTL: 48 * time.Hour}))

	now = now.Add(2 * time.Minute)
	_, err := c.Get(ctx, "short")
	assert.ErrorIs(t, err, plugins.ErrCacheMiss)

	_, err = c.Get(ctx, "long")
	assert.NoError(t, err)

	now = now.Add(time.Hour)
	_, err = c.Get(ctx, "long")
	assert.ErrorIs(t, err, plugins.ErrCacheMiss, "ttl is capped at the cache ttl")
}

func TestCache_Evicts(t *testing.T) {
	ctx := context.Background()
	c := New(Config{Size: 2})

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(ctx, k, []byte(k), plugins.CacheOptions{}))
	}

	assert.Equal(t, 2, c.Len())
	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, plugins.ErrCacheMiss)
}

func TestExport(t *testing.T) {
	export := Export()
	assert.Equal(t, Module, export.Module)
	assert.True(t, export.ProvidesCapability(plugins.CapabilityCache))

	res := plugins.Validate(export.ConfigSchema, plugins.Config{"size": "big"})
	assert.False(t, res.Valid())

	inst, err := export.Init(context.Background(), plugins.InitParams{
		ID:     "cache",
		Config: plugins.Config{"size": 5, "ttl": "30s"},
	})
	require.NoError(t, err)
	c := inst.(*Cache)
	assert.Equal(t, 30*time.Second, c.ttl)
}
