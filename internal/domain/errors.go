package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUserNotFound is returned when no anonymized aggregate exists for
	// the given id.
	ErrUserNotFound = errors.New("user anonymized not found")
	// ErrGoalNotFound is returned when a goal vanished between matching
	// and fetching.
	ErrGoalNotFound = errors.New("goal not found")
	// ErrWeekBucketOverflow signals a week aggregating more than seven day
	// buckets. It indicates a bug in bucket creation and is never
	// silently corrected.
	ErrWeekBucketOverflow = errors.New("week bucket overflow")
	// ErrInconsistentState signals that cached and durable state diverged
	// inside a locked section.
	ErrInconsistentState = errors.New("inconsistent analysis state")
)

// ValidationCode identifies why an activity event was rejected.
type ValidationCode string

const (
	ValidationInvalidInterval ValidationCode = "invalid_interval"
	ValidationFutureStart     ValidationCode = "future_start"
	ValidationFutureEnd       ValidationCode = "future_end"
)

// ValidationError rejects a single event after clock correction. It never
// affects sibling events in the same batch.
type ValidationError struct {
	Code        ValidationCode
	Application string
	StartTime   time.Time
	EndTime     time.Time
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("activity event rejected (%s): application=%q start=%s end=%s",
		e.Code, e.Application, e.StartTime.Format(time.RFC3339), e.EndTime.Format(time.RFC3339))
}
