package service

import (
	"context"
	"sync"
	"time"

	"bookfactory/internal/logger"
)

// ModelLister exposes the cached model list.
type ModelLister interface {
	// Models returns the known model names, refreshing in the background
	// when the cache is stale. Never blocks on the backend once primed.
	Models(ctx context.Context) []string
}

// ModelCache memoizes the backend model list with a TTL. Reads return the
// cached list immediately; a stale cache triggers at most one background
// refresh at a time.
type ModelCache struct {
	generator TextGenerator
	ttl       time.Duration

	mu          sync.Mutex
	models      []string
	refreshedAt time.Time
	refreshing  bool
}

// NewModelCache creates a model cache over the given generator.
// Parameters:
//   - generator: backend used to list models.
//   - ttl: cache lifetime; defaults to 2 minutes when non-positive.
// Returns:
//   - *ModelCache: initialized cache, empty until the first refresh.
func NewModelCache(generator TextGenerator, ttl time.Duration) *ModelCache {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &ModelCache{generator: generator, ttl: ttl}
}

// Models returns the cached model names, kicking off a non-blocking refresh
// when the cache is stale. An empty cache (first call) refreshes inline so
// callers never see an empty list just because the process restarted.
func (c *ModelCache) Models(ctx context.Context) []string {
	c.mu.Lock()
	stale := time.Since(c.refreshedAt) > c.ttl
	primed := c.refreshedAt != (time.Time{})
	cached := c.models
	canRefresh := stale && !c.refreshing
	if canRefresh {
		c.refreshing = true
	}
	c.mu.Unlock()

	if !canRefresh {
		return cached
	}

	if !primed {
		c.refresh(ctx)
		c.mu.Lock()
		cached = c.models
		c.mu.Unlock()
		return cached
	}

	go c.refresh(context.WithoutCancel(ctx))
	return cached
}

func (c *ModelCache) refresh(ctx context.Context) {
	names, err := c.generator.ListModels(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshing = false
	if err != nil {
		logger.CtxWarn(ctx, "model list refresh failed: %v", err)
		// keep the stale list and retry on the next stale read
		c.refreshedAt = time.Now()
		return
	}
	c.models = names
	c.refreshedAt = time.Now()
}
