package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/maneesh/vidfeed/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache, err := NewRedisCache(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache, mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)

	got, err := cache.GetVideo(ctx, "v1")
	require.NoError(t, err)
	assert.Nil(t, got)

	v := &models.Video{ID: "v1", Title: "hello", LikeCount: 3, CreatedAt: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, cache.SetVideo(ctx, v))
	assert.True(t, mr.Exists("video:v1"))
	assert.Equal(t, CacheTTL, mr.TTL("video:v1"))

	got, err = cache.GetVideo(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Title)
	assert.Equal(t, int64(3), got.LikeCount)
	assert.True(t, v.CreatedAt.Equal(got.CreatedAt))

	require.NoError(t, cache.InvalidateVideo(ctx, "v1"))
	got, err = cache.GetVideo(ctx, "v1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisCacheExpires(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)
	require.NoError(t, cache.SetVideo(ctx, &models.Video{ID: "v1"}))

	mr.FastForward(CacheTTL + time.Second)

	got, err := cache.GetVideo(ctx, "v1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisCacheCorruptEntry(t *testing.T) {
	cache, mr := newTestCache(t)
	require.NoError(t, mr.Set("video:bad", "{not json"))

	_, err := cache.GetVideo(context.Background(), "bad")
	assert.Error(t, err)
}

func TestNewRedisCacheUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisCache(context.Background(), addr, "", 0)
	assert.Error(t, err)
}
