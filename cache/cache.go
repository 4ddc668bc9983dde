package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"dealflow/config"
	"dealflow/logger"
	"dealflow/models"
)

// Cache is the two-tier query-result store: a fast in-process tier consulted
// first and a shared Redis tier consulted second. Writes go to both tiers so
// a process restart can still read warm network-tier data. The network tier
// being unreachable degrades the cache to memory-only; it never fails a
// lookup.
type Cache struct {
	ttl    time.Duration
	prefix string
	memory *memoryStore
	remote *redisStore
	log    *logger.Log
}

func New(cfg config.CacheConfig) *Cache {
	c := &Cache{
		ttl:    cfg.TTL,
		prefix: cfg.KeyPrefix,
		memory: newMemoryStore(),
		log:    logger.GetLogger(),
	}
	if cfg.Redis.Enabled {
		c.remote = newRedisStore(cfg.Redis)
	}
	return c
}

// Key derives the stable cache key for a provider and query. Identical
// parameters in any order hash identically: the parameter map is serialized
// sorted by key before hashing.
func (c *Cache) Key(provider string, query models.Query) string {
	params := query.Params()
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(provider))
	for _, k := range keys {
		fmt.Fprintf(h, "|%s=%s", k, params[k])
	}
	digest := hex.EncodeToString(h.Sum(nil))[:32]

	return fmt.Sprintf("%s:%s:%s", c.prefix, provider, digest)
}

// Get returns the cached products for (provider, query), consulting the
// memory tier first. A remote hit back-fills the memory tier.
func (c *Cache) Get(ctx context.Context, provider string, query models.Query) ([]models.Product, bool) {
	key := c.Key(provider, query)

	if products, ok := c.memory.get(key, c.ttl); ok {
		logger.IncrementCacheHit()
		return products, true
	}

	if c.remote != nil {
		products, ok, err := c.remote.get(ctx, key)
		if err != nil {
			c.log.WithComponent("cache").WithError(err).WithFields(logger.Fields{
				"provider": provider,
			}).Warn("network tier read failed")
		} else if ok {
			c.memory.set(key, products)
			logger.IncrementCacheHit()
			return products, true
		}
	}

	logger.IncrementCacheMiss()
	return nil, false
}

// Set stores the products in both tiers under the cache TTL.
func (c *Cache) Set(ctx context.Context, provider string, query models.Query, products []models.Product) {
	key := c.Key(provider, query)
	c.memory.set(key, products)

	if c.remote != nil {
		if err := c.remote.set(ctx, key, products, c.ttl); err != nil {
			c.log.WithComponent("cache").WithError(err).WithFields(logger.Fields{
				"provider": provider,
			}).Warn("network tier write failed")
		}
	}
}

// ClearProvider drops every cached result for one provider across both
// tiers. Administrative operation, not part of the steady-state path.
func (c *Cache) ClearProvider(ctx context.Context, provider string) error {
	pattern := fmt.Sprintf("%s:%s:", c.prefix, provider)
	c.memory.clearPrefix(pattern)
	if c.remote != nil {
		return c.remote.clearPattern(ctx, pattern+"*")
	}
	return nil
}

// ClearAll drops every cached result across both tiers.
func (c *Cache) ClearAll(ctx context.Context) error {
	c.memory.clearPrefix(c.prefix + ":")
	if c.remote != nil {
		return c.remote.clearPattern(ctx, c.prefix+":*")
	}
	return nil
}
