package engine

import (
	"time"

	"github.com/google/uuid"

	"example.com/analysis/internal/domain"
)

// matchGoals selects the user's goals affected by an event. A goal matches
// when its category matched the event attributes, it is not a superseded
// history item, and it was created before the event time plus the device
// inaccuracy margin, so a just-created goal still catches activity reported
// with slight client lead.
func matchGoals(goals []domain.Goal, matchedCategoryIDs map[uuid.UUID]struct{}, eventTime time.Time) []domain.Goal {
	cutoff := eventTime.Add(DeviceTimeInaccuracyMargin)

	var matched []domain.Goal
	for _, goal := range goals {
		if goal.HistoryItem {
			continue
		}
		if _, ok := matchedCategoryIDs[goal.ActivityCategoryID]; !ok {
			continue
		}
		if !goal.CreationTime.Before(cutoff) {
			continue
		}
		matched = append(matched, goal)
	}
	return matched
}

func categoryIDSet(categories []domain.ActivityCategory) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(categories))
	for _, c := range categories {
		set[c.ID] = struct{}{}
	}
	return set
}
