package authz

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheKeyPrefix = "authz:roleperms:"

// DefaultPermissionTTL bounds how stale a cached role permission set may be
// after a role definition edit.
const DefaultPermissionTTL = 5 * time.Minute

// PermissionCache memoizes role name -> permission set lookups in Redis.
// Entries are populated on miss and expire by TTL only; role definition
// edits are never actively invalidated. Per-user data is never cached here.
type PermissionCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewPermissionCache constructs the cache. A nil client degrades to calling
// the loader directly, which keeps tests and redis-less development working.
func NewPermissionCache(client *redis.Client, ttl time.Duration) *PermissionCache {
	if ttl <= 0 {
		ttl = DefaultPermissionTTL
	}
	return &PermissionCache{client: client, ttl: ttl}
}

// Permissions returns the cached permission set for a role, populating the
// cache from loader on miss. Concurrent misses for the same role share one
// loader call.
func (c *PermissionCache) Permissions(ctx context.Context, role string, loader func(context.Context) ([]Permission, error)) ([]Permission, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key := cacheKeyPrefix + role
	v, err, _ := c.group.Do(key, func() (any, error) {
		raw, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			var perms []Permission
			if err := json.Unmarshal(raw, &perms); err == nil {
				return perms, nil
			}
			// Unreadable entry: fall through and repopulate.
		} else if !errors.Is(err, redis.Nil) {
			// Cache outage must not take authorization down with it.
			return loader(ctx)
		}
		perms, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(perms)
		if err != nil {
			return nil, err
		}
		_ = c.client.Set(ctx, key, encoded, c.ttl).Err()
		return perms, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Permission), nil
}
