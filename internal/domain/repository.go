package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Cursor models the pagination token for day and week listings.
type Cursor struct {
	Date time.Time
	ID   string
}

// UserAnonymizedRepository resolves and persists the per-user aggregate.
type UserAnonymizedRepository interface {
	// Get loads the aggregate with its goals and notification
	// destinations. Returns ErrUserNotFound when the id is unknown.
	Get(ctx context.Context, id uuid.UUID) (*UserAnonymized, error)
	// Save persists all day and week buckets touched on the aggregate in
	// a single call. It is invoked at most once per event-processing
	// call, after all in-memory mutations are complete; the caller resets
	// the touched set with ClearTouched once the save succeeded.
	Save(ctx context.Context, user *UserAnonymized) error
}

// DayActivityRepository is the durable store for day buckets.
type DayActivityRepository interface {
	// FindOne returns the bucket for (user, goal, local date) or nil when
	// absent.
	FindOne(ctx context.Context, userAnonymizedID, goalID uuid.UUID, date time.Time) (*DayActivity, error)
	// List pages day buckets for a user, most recent date first.
	List(ctx context.Context, userAnonymizedID uuid.UUID, cursor *Cursor, limit int) ([]*DayActivity, *Cursor, error)
}

// WeekActivityRepository is the durable store for week buckets.
type WeekActivityRepository interface {
	// FindOne returns the bucket for (user, goal, start of local week)
	// with its day buckets attached, or nil when absent.
	FindOne(ctx context.Context, userAnonymizedID, goalID uuid.UUID, startOfWeek time.Time) (*WeekActivity, error)
	// List pages week buckets for a user, most recent week first, with
	// day buckets attached for weeks whose aggregates are not yet cached.
	List(ctx context.Context, userAnonymizedID uuid.UUID, cursor *Cursor, limit int) ([]*WeekActivity, *Cursor, error)
	// SaveAggregates persists a week's computed spread and totals, making
	// them the authoritative values once the week has closed.
	SaveAggregates(ctx context.Context, week *WeekActivity) error
}
