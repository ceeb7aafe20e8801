package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T) (*RedisPolicyCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisPolicyCache(client, "keystone:"), mr
}

func TestRedisPolicyCache_SetGet(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	_, found, err := c.Get(ctx, RoleKey("admin"))
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, RoleKey("admin"), []string{"sessions:admin", "users:read"}, time.Minute))
	assert.True(t, mr.Exists("keystone:role:admin"))

	perms, found, err := c.Get(ctx, RoleKey("admin"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"sessions:admin", "users:read"}, perms)
}

func TestRedisPolicyCache_EmptyPolicyIsAHit(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisCache(t)

	require.NoError(t, c.Set(ctx, RoleKey("guest"), nil, time.Minute))

	perms, found, err := c.Get(ctx, RoleKey("guest"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, perms)
}

func TestRedisPolicyCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	require.NoError(t, c.Set(ctx, RoleKey("admin"), []string{"a"}, time.Minute))
	mr.FastForward(61 * time.Second)

	_, found, err := c.Get(ctx, RoleKey("admin"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisPolicyCache_DeleteAndCorruptValue(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	require.NoError(t, c.Set(ctx, RoleKey("admin"), []string{"a"}, time.Minute))
	require.NoError(t, c.Delete(ctx, RoleKey("admin")))
	_, found, err := c.Get(ctx, RoleKey("admin"))
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, mr.Set("keystone:role:broken", "{not json"))
	_, _, err = c.Get(ctx, RoleKey("broken"))
	assert.Error(t, err)
}

func TestRedisPolicyCache_ServerDown(t *testing.T) {
	c, mr := newRedisCache(t)
	mr.Close()

	_, _, err := c.Get(context.Background(), RoleKey("admin"))
	assert.Error(t, err)
}

func TestRedisPolicyCache_NonPositiveTTLStoresNothing(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	for _, ttl := range []time.Duration{0, -time.Second} {
		require.NoError(t, c.Set(ctx, RoleKey("admin"), []string{"a"}, ttl))
		assert.False(t, mr.Exists("keystone:role:admin"))

		_, found, err := c.Get(ctx, RoleKey("admin"))
		require.NoError(t, err)
		assert.False(t, found)
	}
}

func TestMemoryPolicyCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryPolicyCache()
	c.SetClock(func() time.Time { return now })

	require.NoError(t, c.Set(ctx, RoleKey("admin"), []string{"a", "b"}, time.Minute))

	perms, found, err := c.Get(ctx, RoleKey("admin"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"a", "b"}, perms)

	perms[0] = "mutated"
	perms, _, _ = c.Get(ctx, RoleKey("admin"))
	assert.Equal(t, "a", perms[0])

	now = now.Add(time.Minute)
	_, found, err = c.Get(ctx, RoleKey("admin"))
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, RoleKey("zero"), []string{"x"}, 0))
	_, found, _ = c.Get(ctx, RoleKey("zero"))
	assert.False(t, found)
}
