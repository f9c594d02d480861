//go:build integration

package cache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildpass/buildpass-backend/internal/legality/cache"
	"github.com/buildpass/buildpass-backend/pkg/config"
	"github.com/buildpass/buildpass-backend/pkg/testutil"
)

func TestCheckCache_Redis(t *testing.T) {
	testutil.SkipIfShort(t)
	ctx := testutil.DefaultTestContext(t)

	rc, err := testutil.NewRedisContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Terminate(ctx) })

	client, err := cache.NewClient(ctx, config.RedisConfig{URL: rc.URL})
	require.NoError(t, err)
	assert.Equal(t, "up", client.Health(ctx)["status"])

	c := cache.NewCheckCache(client.Client, time.Minute)
	key := cache.Key("2026.09", "de", "kw v3 coilovers")

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, key, []byte(`{"legalityStatus":"UNKNOWN"}`)))
	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"legalityStatus":"UNKNOWN"}`, string(got))

	ttl, err := client.TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	require.NoError(t, rc.FlushAll(ctx))
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckCache_Generation(t *testing.T) {
	testutil.SkipIfShort(t)
	ctx := testutil.DefaultTestContext(t)

	rc, err := testutil.NewRedisContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Terminate(ctx) })

	client, err := cache.NewClient(ctx, config.RedisConfig{URL: rc.URL})
	require.NoError(t, err)
	c := cache.NewCheckCache(client.Client, time.Minute)

	gen, err := c.Generation(ctx)
	require.NoError(t, err)
	assert.Zero(t, gen)

	next, err := c.Invalidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)

	gen, err = c.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
}

func TestNewClient_Disabled(t *testing.T) {
	client, err := cache.NewClient(testutil.DefaultTestContext(t), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, client)
}
