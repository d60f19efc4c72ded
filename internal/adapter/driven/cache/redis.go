package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Ranjithdurai451/spark-code/internal/domain/model"
	"github.com/Ranjithdurai451/spark-code/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialCache = (*Redis)(nil)

// keyPrefix namespaces cache entries in a shared redis instance.
const keyPrefix = "sparkgate:credentials:"

// Redis is the distributed CredentialCache backend for multi-instance
// deployments. Entries expire server-side via the redis key TTL, and the
// CachedAt timestamp is additionally checked on read so a clock-skewed
// instance never serves an entry past its window.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a redis-backed cache with the given entry TTL.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Get returns the entry for userID, or ok=false if absent or expired.
func (r *Redis) Get(ctx context.Context, userID string) (model.CachedCredential, bool, error) {
	data, err := r.client.Get(ctx, keyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.CachedCredential{}, false, nil
	}
	if err != nil {
		return model.CachedCredential{}, false, fmt.Errorf("redis get %q: %w", userID, err)
	}

	var cred model.CachedCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return model.CachedCredential{}, false, fmt.Errorf("decode cached credential %q: %w", userID, err)
	}
	if cred.Expired(time.Now(), r.ttl) {
		return model.CachedCredential{}, false, nil
	}
	return cred, true, nil
}

// Put stores the entry with the cache TTL. SET replaces the whole value
// atomically on the redis side.
func (r *Redis) Put(ctx context.Context, userID string, cred model.CachedCredential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode cached credential %q: %w", userID, err)
	}
	if err := r.client.Set(ctx, keyPrefix+userID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", userID, err)
	}
	return nil
}

// Invalidate removes the entry for userID.
func (r *Redis) Invalidate(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, keyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", userID, err)
	}
	return nil
}
