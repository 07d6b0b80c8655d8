package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leozw/monitrix/internal/core"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewClient("redis://" + mr.Addr()), mr
}

func TestTryLock(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	unlock, ok, err := c.TryLock(ctx, "monitrix:job:website", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.TryLock(ctx, "monitrix:job:website", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("monitrix:job:website"))

	_, ok, err = c.TryLock(ctx, "monitrix:job:website", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnlockKeepsForeignLock(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	unlock, ok, err := c.TryLock(ctx, "monitrix:job:ssl", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = c.TryLock(ctx, "monitrix:job:ssl", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, unlock(ctx))
	assert.True(t, mr.Exists("monitrix:job:ssl"))
}

func TestStatusCountCache(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.GetCachedStatusCount(ctx, 7, core.KindWebsite)
	assert.True(t, errors.Is(err, core.ErrNotFound))

	want := core.StatusCount{Up: 3, Alert: 1, Down: 2}
	require.NoError(t, c.CacheStatusCount(ctx, 7, core.KindWebsite, want))

	got, err := c.GetCachedStatusCount(ctx, 7, core.KindWebsite)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, c.InvalidateStatusCounts(ctx, 7))
	_, err = c.GetCachedStatusCount(ctx, 7, core.KindWebsite)
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestHealthy(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Healthy(ctx))
	mr.Close()
	assert.Error(t, c.Healthy(ctx))
}
