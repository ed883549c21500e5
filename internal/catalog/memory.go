package catalog

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"example.com/analysis/internal/domain"
)

// InMemoryCatalog keeps categories in memory for local development and
// tests.
type InMemoryCatalog struct {
	mu         sync.RWMutex
	categories map[uuid.UUID]domain.ActivityCategory
}

// NewInMemoryCatalog constructs an empty catalog.
func NewInMemoryCatalog() *InMemoryCatalog {
	return &InMemoryCatalog{categories: make(map[uuid.UUID]domain.ActivityCategory)}
}

// Upsert stores or replaces a category.
func (c *InMemoryCatalog) Upsert(category domain.ActivityCategory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.categories[category.ID] = category
}

// MatchingCategoriesForApp implements Catalog.
func (c *InMemoryCatalog) MatchingCategoriesForApp(ctx context.Context, application string) ([]domain.ActivityCategory, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []domain.ActivityCategory
	for _, category := range c.categories {
		if category.MatchesApp(application) {
			out = append(out, category)
		}
	}
	return out, nil
}

// MatchingCategoriesForNetwork implements Catalog.
func (c *InMemoryCatalog) MatchingCategoriesForNetwork(ctx context.Context, categories []string) ([]domain.ActivityCategory, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []domain.ActivityCategory
	for _, category := range c.categories {
		if category.MatchesNetworkCategories(categories) {
			out = append(out, category)
		}
	}
	return out, nil
}

// AllCategories implements Catalog.
func (c *InMemoryCatalog) AllCategories(ctx context.Context) ([]domain.ActivityCategory, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.ActivityCategory, 0, len(c.categories))
	for _, category := range c.categories {
		out = append(out, category)
	}
	return out, nil
}
