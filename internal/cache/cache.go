// Package cache provides a Redis cache-aside layer in front of group role
// lookups.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"studyroom/pkg/interfaces"
	"studyroom/pkg/types"
)

// Config holds cache configuration
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// DefaultConfig returns the default cache configuration; Addr is empty so the
// cache stays disabled until configured
func DefaultConfig() Config {
	return Config{
		Prefix: "studyroom:role:",
		TTL:    30 * time.Second,
	}
}

// Stats tracks cache statistics
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Sets   uint64 `json:"sets"`
	Errors uint64 `json:"errors"`
}

// RoleCache decorates a MembershipLookup. Only member roles are cached, so a
// user added to a group is admitted on their next attempt; any Redis failure
// falls through to the wrapped lookup.
type RoleCache struct {
	client  *redis.Client
	next    interfaces.MembershipLookup
	prefix  string
	ttl     time.Duration
	sfGroup singleflight.Group
	stats   Stats
	logger  logrus.FieldLogger
}

// NewClient builds a Redis client from cfg
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRoleCache wraps next with client
func NewRoleCache(client *redis.Client, next interfaces.MembershipLookup, cfg Config, logger logrus.FieldLogger) *RoleCache {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	return &RoleCache{
		client: client,
		next:   next,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		logger: logger,
	}
}

func (c *RoleCache) key(groupID, userID string) string {
	return c.prefix + groupID + ":" + userID
}

// Role implements interfaces.MembershipLookup
func (c *RoleCache) Role(ctx context.Context, groupID, userID string) (types.Role, error) {
	key := c.key(groupID, userID)

	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if role := types.ParseRole(cached); role.IsMember() {
			atomic.AddUint64(&c.stats.Hits, 1)
			return role, nil
		}
		atomic.AddUint64(&c.stats.Misses, 1)
	case errors.Is(err, redis.Nil):
		atomic.AddUint64(&c.stats.Misses, 1)
	default:
		atomic.AddUint64(&c.stats.Errors, 1)
		c.logger.WithField("key", key).WithError(err).Debug("Role cache read failed")
	}

	// Concurrent misses for the same membership share one store lookup
	val, err, _ := c.sfGroup.Do(key, func() (any, error) {
		return c.next.Role(ctx, groupID, userID)
	})
	if err != nil {
		return types.RoleNone, err
	}
	role := val.(types.Role)

	// A role changed outside Invalidate stays cached for at most ttl
	if role.IsMember() {
		if err := c.client.Set(ctx, key, string(role), c.ttl).Err(); err != nil {
			atomic.AddUint64(&c.stats.Errors, 1)
			c.logger.WithField("key", key).WithError(err).Debug("Role cache write failed")
		} else {
			atomic.AddUint64(&c.stats.Sets, 1)
		}
	}
	return role, nil
}

// Invalidate drops a cached role after it changes
func (c *RoleCache) Invalidate(ctx context.Context, groupID, userID string) error {
	if err := c.client.Del(ctx, c.key(groupID, userID)).Err(); err != nil {
		atomic.AddUint64(&c.stats.Errors, 1)
		return fmt.Errorf("cache delete error: %w", err)
	}
	return nil
}

// GetStats returns a snapshot of the counters
func (c *RoleCache) GetStats() Stats {
	return Stats{
		Hits:   atomic.LoadUint64(&c.stats.Hits),
		Misses: atomic.LoadUint64(&c.stats.Misses),
		Sets:   atomic.LoadUint64(&c.stats.Sets),
		Errors: atomic.LoadUint64(&c.stats.Errors),
	}
}

// Ping checks if the Redis connection is healthy
func (c *RoleCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client connection
func (c *RoleCache) Close() error {
	return c.client.Close()
}
