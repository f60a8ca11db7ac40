package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoCacheBasicOperations(t *testing.T) {
	c := NewGoCache(LocalConfig{DefaultExpiration: time.Minute, CleanupInterval: time.Minute})
	defer c.Close()

	ctx := context.Background()

	// 设置与读取
	require.NoError(t, c.Set(ctx, "key1", "value1", time.Minute))
	v, ok := c.Get(ctx, "key1")
	assert.True(t, ok)
	assert.Equal(t, "value1", v)

	// 不存在的键
	_, ok = c.Get(ctx, "missing")
	assert.False(t, ok)
	assert.False(t, c.Exists(ctx, "missing"))

	// 删除
	require.NoError(t, c.Delete(ctx, "key1"))
	_, ok = c.Get(ctx, "key1")
	assert.False(t, ok)
}

func TestGoCacheExpiration(t *testing.T) {
	c := NewGoCache(LocalConfig{DefaultExpiration: time.Minute, CleanupInterval: time.Minute})
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "ephemeral", 42, 20*time.Millisecond))

	_, ok := c.Get(ctx, "ephemeral")
	assert.True(t, ok)

	time.Sleep(50 * time.Millisecond)
	_, ok = c.Get(ctx, "ephemeral")
	assert.False(t, ok)
}

func TestGoCacheClear(t *testing.T) {
	c := NewGoCache(LocalConfig{})
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", 1, time.Minute))
	require.NoError(t, c.Set(ctx, "b", 2, time.Minute))

	require.NoError(t, c.Clear(ctx))
	assert.False(t, c.Exists(ctx, "a"))
	assert.False(t, c.Exists(ctx, "b"))
}

func TestNewCacheFactory(t *testing.T) {
	c, err := NewCache(Config{Type: "local"})
	require.NoError(t, err)
	require.NotNil(t, c)
	defer c.Close()

	_, err = NewCache(Config{Type: "bogus"})
	assert.Error(t, err)
}
