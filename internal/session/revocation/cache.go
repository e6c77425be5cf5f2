// Package revocation mirrors session liveness into Redis so the auth guard can check a
// session on every request without touching Postgres.
//
// Each session maps to key "session:<id>" holding "active" or "revoked", with a TTL equal
// to the maximum session lifetime. A missing key means revoked. Entries are written on
// creation and on revocation only; normal activity never extends them.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "session:"

// Status is the value stored for a session.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// Cache is the session liveness store consulted by the guard and by refresh.
type Cache interface {
	MarkActive(ctx context.Context, sessionID string) error
	Revoke(ctx context.Context, sessionIDs ...string) error
	// IsActive reports whether the session is live. Absent or revoked entries are not.
	IsActive(ctx context.Context, sessionID string) (bool, error)
}

// RedisCache implements Cache with go-redis.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache returns a RedisCache writing entries with the given TTL.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Key returns the Redis key for a session.
func Key(sessionID string) string {
	return keyPrefix + sessionID
}

// TTL returns the lifetime written with every entry.
func (c *RedisCache) TTL() time.Duration { return c.ttl }

// MarkActive records the session as live for one TTL.
func (c *RedisCache) MarkActive(ctx context.Context, sessionID string) error {
	if err := c.client.Set(ctx, Key(sessionID), string(StatusActive), c.ttl).Err(); err != nil {
		return fmt.Errorf("revocation: mark active: %w", err)
	}
	return nil
}

// Revoke overwrites each session's entry with "revoked" and a fresh TTL.
func (c *RedisCache) Revoke(ctx context.Context, sessionIDs ...string) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	pipe := c.client.TxPipeline()
	for _, id := range sessionIDs {
		pipe.Set(ctx, Key(id), string(StatusRevoked), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("revocation: revoke: %w", err)
	}
	return nil
}

// IsActive returns true only when the entry exists and equals "active".
func (c *RedisCache) IsActive(ctx context.Context, sessionID string) (bool, error) {
	v, err := c.client.Get(ctx, Key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("revocation: lookup: %w", err)
	}
	return Status(v) == StatusActive, nil
}
