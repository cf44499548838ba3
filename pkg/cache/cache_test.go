package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNop(t *testing.T) {
	ctx := context.Background()
	var c Cache = Nop{}

	require.NoError(t, c.Set(ctx, "k", 1, time.Minute))
	var v int
	hit, err := c.Get(ctx, "k", &v)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Bump(ctx, "course:1"))
	ver, err := c.Version(ctx, "course:1")
	require.NoError(t, err)
	assert.Zero(t, ver)
}

func TestRedisCacheUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	c := NewRedisCache(client, "test:")
	ctx := context.Background()

	assert.Equal(t, "test:ver:course:7", c.versionKey("course:7"))

	_, err := c.Version(ctx, "course:7")
	assert.Error(t, err)
	hit, err := c.Get(ctx, "k", new(int))
	assert.Error(t, err)
	assert.False(t, hit)
	assert.Error(t, c.Set(ctx, "k", 1, time.Minute))
}
