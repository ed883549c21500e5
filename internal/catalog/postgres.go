package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/analysis/internal/domain"
)

// PostgresCatalog serves category lookups from the activity_categories
// table. Tag and application sets are stored as text arrays and matched in
// the database.
type PostgresCatalog struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalog constructs a PostgresCatalog.
func NewPostgresCatalog(pool *pgxpool.Pool) *PostgresCatalog {
	return &PostgresCatalog{pool: pool}
}

// MatchingCategoriesForApp implements Catalog.
func (c *PostgresCatalog) MatchingCategoriesForApp(ctx context.Context, application string) ([]domain.ActivityCategory, error) {
	const query = `SELECT id, name, network_categories, applications
        FROM activity_categories WHERE $1 = ANY(applications)`
	return c.queryCategories(ctx, query, application)
}

// MatchingCategoriesForNetwork implements Catalog.
func (c *PostgresCatalog) MatchingCategoriesForNetwork(ctx context.Context, categories []string) ([]domain.ActivityCategory, error) {
	if len(categories) == 0 {
		return nil, nil
	}
	const query = `SELECT id, name, network_categories, applications
        FROM activity_categories WHERE network_categories && $1::text[]`
	return c.queryCategories(ctx, query, categories)
}

// AllCategories implements Catalog.
func (c *PostgresCatalog) AllCategories(ctx context.Context) ([]domain.ActivityCategory, error) {
	const query = `SELECT id, name, network_categories, applications
        FROM activity_categories ORDER BY name`
	return c.queryCategories(ctx, query)
}

func (c *PostgresCatalog) queryCategories(ctx context.Context, query string, args ...any) ([]domain.ActivityCategory, error) {
	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activity categories: %w", err)
	}
	defer rows.Close()

	var out []domain.ActivityCategory
	for rows.Next() {
		category, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, category)
	}
	return out, rows.Err()
}

func scanCategory(row pgx.Row) (domain.ActivityCategory, error) {
	var category domain.ActivityCategory
	var networkCategories, applications []string
	if err := row.Scan(&category.ID, &category.Name, &networkCategories, &applications); err != nil {
		return domain.ActivityCategory{}, err
	}
	category.NetworkCategories = toSet(networkCategories)
	category.Applications = toSet(applications)
	return category, nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
