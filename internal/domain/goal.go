package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActivityCategory groups the network category tags and application names
// that count towards the same kind of activity.
type ActivityCategory struct {
	ID                uuid.UUID
	Name              string
	NetworkCategories map[string]struct{}
	Applications      map[string]struct{}
}

// MatchesApp reports whether the category covers the given application.
func (c ActivityCategory) MatchesApp(application string) bool {
	_, ok := c.Applications[application]
	return ok
}

// MatchesNetworkCategories reports whether any of the reported network
// category tags belongs to this category.
func (c ActivityCategory) MatchesNetworkCategories(categories []string) bool {
	for _, tag := range categories {
		if _, ok := c.NetworkCategories[tag]; ok {
			return true
		}
	}
	return false
}

// Goal ties a user to one activity category, either as a full restriction
// (no-go) or as a tracked budget.
type Goal struct {
	ID                 uuid.UUID
	ActivityCategoryID uuid.UUID
	NoGo               bool
	CreationTime       time.Time
	// HistoryItem marks a superseded goal version kept for reporting.
	// History items never match new events.
	HistoryItem bool
}
