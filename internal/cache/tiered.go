// Package cache provides a two-tier result cache for analytics
// projections:
//   - L1: in-process Ristretto (microsecond lookups)
//   - L2: optional Redis, shared across instances
//
// Entries are scoped to an owner (the userID) so a data-erasure request
// can purge every derived value for that user in one call.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Tiered is the two-tier cache. L2 is nil when Redis is not configured.
type Tiered struct {
	l1     *ristretto.Cache[string, []byte]
	l2     *redis.Client
	logger *zap.Logger

	ownerMu sync.Mutex
	owners  map[string]map[string]struct{} // owner -> keys
}

// NewTiered creates a cache holding up to maxEntries values in L1.
// redisClient may be nil.
func NewTiered(maxEntries int64, redisClient *redis.Client, logger *zap.Logger) (*Tiered, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l1, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &Tiered{
		l1:     l1,
		l2:     redisClient,
		logger: logger.Named("cache"),
		owners: make(map[string]map[string]struct{}),
	}, nil
}

// Get returns the cached value for key, checking L1 then L2. A value
// found only in L2 is promoted back into L1.
func (c *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	if val, found := c.l1.Get(key); found {
		return val, true
	}

	if c.l2 != nil {
		val, err := c.l2.Get(ctx, key).Bytes()
		if err == nil {
			c.l1.Set(key, val, 1)
			return val, true
		}
		if err != redis.Nil {
			c.logger.Warn("L2 cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	return nil, false
}

// Set stores a value in both tiers with the given TTL, recording key
// ownership for later purge.
func (c *Tiered) Set(ctx context.Context, owner, key string, val []byte, ttl time.Duration) {
	c.l1.SetWithTTL(key, val, 1, ttl)

	if c.l2 != nil {
		if err := c.l2.Set(ctx, key, val, ttl).Err(); err != nil {
			c.logger.Warn("L2 cache write failed", zap.String("key", key), zap.Error(err))
		}
	}

	c.ownerMu.Lock()
	keys, ok := c.owners[owner]
	if !ok {
		keys = make(map[string]struct{})
		c.owners[owner] = keys
	}
	keys[key] = struct{}{}
	c.ownerMu.Unlock()
}

// PurgeOwner drops every cached value recorded for owner. Part of the
// user-data-erasure cascade.
func (c *Tiered) PurgeOwner(ctx context.Context, owner string) {
	c.ownerMu.Lock()
	keys := c.owners[owner]
	delete(c.owners, owner)
	c.ownerMu.Unlock()

	for key := range keys {
		c.l1.Del(key)
		if c.l2 != nil {
			if err := c.l2.Del(ctx, key).Err(); err != nil {
				c.logger.Warn("L2 cache purge failed", zap.String("key", key), zap.Error(err))
			}
		}
	}

	c.logger.Debug("Purged cached projections",
		zap.String("owner", owner),
		zap.Int("keys", len(keys)))
}

// Wait blocks until pending L1 writes are visible. Tests only.
func (c *Tiered) Wait() {
	c.l1.Wait()
}
