package cache

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"example.com/analysis/internal/domain"
)

type cacheKey struct {
	userAnonymizedID uuid.UUID
	goalID           uuid.UUID
}

// InMemoryCache is a process-local LastActivityCache for single-instance
// deployments and tests.
type InMemoryCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]domain.Activity
}

// NewInMemoryCache constructs an empty InMemoryCache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{entries: make(map[cacheKey]domain.Activity)}
}

// Get implements LastActivityCache.
func (c *InMemoryCache) Get(ctx context.Context, userAnonymizedID, goalID uuid.UUID) (*domain.Activity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	activity, ok := c.entries[cacheKey{userAnonymizedID, goalID}]
	if !ok {
		return nil, nil
	}
	return &activity, nil
}

// Put implements LastActivityCache.
func (c *InMemoryCache) Put(ctx context.Context, userAnonymizedID, goalID uuid.UUID, activity domain.Activity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey{userAnonymizedID, goalID}] = activity
	return nil
}

// Remove implements LastActivityCache.
func (c *InMemoryCache) Remove(ctx context.Context, userAnonymizedID, goalID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, cacheKey{userAnonymizedID, goalID})
	return nil
}
