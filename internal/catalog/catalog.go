// Package catalog resolves which activity categories an event's attributes
// belong to. The catalog itself is managed elsewhere; the analysis engine
// only consumes lookups.
package catalog

import (
	"context"

	"example.com/analysis/internal/domain"
)

// Catalog looks up activity categories by event attributes.
type Catalog interface {
	// MatchingCategoriesForApp returns the categories covering the given
	// application name.
	MatchingCategoriesForApp(ctx context.Context, application string) ([]domain.ActivityCategory, error)
	// MatchingCategoriesForNetwork returns the categories whose tag set
	// intersects the reported network categories.
	MatchingCategoriesForNetwork(ctx context.Context, categories []string) ([]domain.ActivityCategory, error)
	// AllCategories returns every known category.
	AllCategories(ctx context.Context) ([]domain.ActivityCategory, error)
}
