package permissions

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DecisionCache memoizes resolved allow/deny decisions in Redis, keyed by
// (user, code). Keys embed a per-user version counter: bumping the version
// drops every cached decision for the user at once, which is how role
// changes are invalidated without tracking which codes a role touches.
// The TTL is a safety net against missed invalidations, not the contract.
type DecisionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDecisionCache instantiates the cache helper.
func NewDecisionCache(client *redis.Client, ttl time.Duration) *DecisionCache {
	return &DecisionCache{client: client, ttl: ttl}
}

func versionKey(userID int64) string {
	return fmt.Sprintf("perm:uver:%d", userID)
}

// version returns the user's current cache version, initialising it lazily.
func (c *DecisionCache) version(ctx context.Context, userID int64) (int64, error) {
	ver, err := c.client.Get(ctx, versionKey(userID)).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, versionKey(userID), 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
	}
	return ver, nil
}

func (c *DecisionCache) decisionKey(ctx context.Context, userID int64, code string) (string, error) {
	ver, err := c.version(ctx, userID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("perm:dec:%d:%d:%s", userID, ver, code), nil
}

// Get returns the cached decision and whether one was present. Any Redis
// failure reads as a miss: the resolver recomputes from the store.
func (c *DecisionCache) Get(ctx context.Context, userID int64, code string) (bool, bool) {
	if c == nil || c.client == nil {
		return false, false
	}
	key, err := c.decisionKey(ctx, userID, code)
	if err != nil {
		return false, false
	}
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return false, false
	}
	return val == "1", true
}

// Set stores a decision with the configured TTL. Two racing writers store
// the same freshly computed value, so losing the race is harmless.
func (c *DecisionCache) Set(ctx context.Context, userID int64, code string, allowed bool) {
	if c == nil || c.client == nil {
		return
	}
	key, err := c.decisionKey(ctx, userID, code)
	if err != nil {
		return
	}
	val := "0"
	if allowed {
		val = "1"
	}
	_ = c.client.Set(ctx, key, val, c.ttl).Err()
}

// InvalidateCode drops the single cached decision for (user, code). Used
// after a direct override write, where only one code can change.
func (c *DecisionCache) InvalidateCode(ctx context.Context, userID int64, code string) error {
	if c == nil || c.client == nil {
		return nil
	}
	key, err := c.decisionKey(ctx, userID, code)
	if err != nil {
		return err
	}
	return c.client.Del(ctx, key).Err()
}

// InvalidateUser drops every cached decision for the user by bumping the
// version counter. Used after role changes, which affect an unbounded set
// of codes. Stale versioned keys fall out via their TTL.
func (c *DecisionCache) InvalidateUser(ctx context.Context, userID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, versionKey(userID)).Err()
}
