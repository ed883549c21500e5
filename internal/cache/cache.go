// Package cache provides the last-activity lookup used to decide
// merge-vs-new without a storage round trip on every event.
package cache

import (
	"context"

	"github.com/google/uuid"

	"example.com/analysis/internal/domain"
)

// LastActivityCache stores the most recently recorded activity per
// (user, goal). It is a pure performance optimization: a miss must be
// answered from the day bucket store, and the update policy (never regress
// to an earlier end time) is enforced by the caller, not here.
type LastActivityCache interface {
	// Get returns the cached activity or (nil, nil) on a miss.
	Get(ctx context.Context, userAnonymizedID, goalID uuid.UUID) (*domain.Activity, error)
	// Put overwrites the cached entry.
	Put(ctx context.Context, userAnonymizedID, goalID uuid.UUID, activity domain.Activity) error
	// Remove drops the cached entry if present.
	Remove(ctx context.Context, userAnonymizedID, goalID uuid.UUID) error
}
