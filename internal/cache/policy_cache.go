package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// PolicyCache stores resolved role permissions with an explicit TTL.
// Get reports found=false on a miss; a miss is not an error. Set with a
// non-positive TTL stores nothing.
type PolicyCache interface {
	Get(ctx context.Context, key string) (permissions []string, found bool, err error)
	Set(ctx context.Context, key string, permissions []string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// DefaultKeyPrefix namespaces keystone keys in a shared Redis
const DefaultKeyPrefix = "keystone:"

// RoleKey returns the cache key for a role
func RoleKey(role string) string {
	return "role:" + role
}

// RedisPolicyCache keeps policies in Redis as JSON arrays
type RedisPolicyCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisPolicyCache creates a Redis-backed cache; prefix namespaces every key
func NewRedisPolicyCache(client redis.UniversalClient, prefix string) *RedisPolicyCache {
	return &RedisPolicyCache{client: client, prefix: prefix}
}

func (c *RedisPolicyCache) Get(ctx context.Context, key string) ([]string, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read policy cache: %w", err)
	}

	var permissions []string
	if err := json.Unmarshal(raw, &permissions); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached policy: %w", err)
	}
	return permissions, true, nil
}

func (c *RedisPolicyCache) Set(ctx context.Context, key string, permissions []string, ttl time.Duration) error {
	// a zero expiration would persist the key forever
	if ttl <= 0 {
		return nil
	}
	if permissions == nil {
		permissions = []string{}
	}
	raw, err := json.Marshal(permissions)
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}

	if err := c.client.Set(ctx, c.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write policy cache: %w", err)
	}
	return nil
}

func (c *RedisPolicyCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to evict policy: %w", err)
	}
	return nil
}

type memoryEntry struct {
	permissions []string
	expiresAt   time.Time
}

// MemoryPolicyCache is an in-process PolicyCache for single-node deployments and tests
type MemoryPolicyCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryPolicyCache creates an empty in-process cache
func NewMemoryPolicyCache() *MemoryPolicyCache {
	return &MemoryPolicyCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetClock overrides the time source used for expiry
func (c *MemoryPolicyCache) SetClock(now func() time.Time) {
	c.now = now
}

func (c *MemoryPolicyCache) Get(ctx context.Context, key string) ([]string, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || !c.now().Before(entry.expiresAt) {
		return nil, false, nil
	}
	return append([]string(nil), entry.permissions...), true, nil
}

func (c *MemoryPolicyCache) Set(ctx context.Context, key string, permissions []string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{
		permissions: append([]string(nil), permissions...),
		expiresAt:   c.now().Add(ttl),
	}
	return nil
}

func (c *MemoryPolicyCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}
