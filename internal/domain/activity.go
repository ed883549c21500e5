// Package domain defines the entities and repository contracts of the
// activity analysis engine.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SpreadSlots is the number of hourly buckets in a day spread.
const SpreadSlots = 24

// DaysPerWeek bounds the number of day buckets a week may aggregate.
const DaysPerWeek = 7

// Activity is one contiguous recorded interval within a day bucket. It is
// only mutated by extending its end time while it is the last activity of
// its day; superseded activities are immutable.
type Activity struct {
	ID        uuid.UUID
	Zone      string
	StartTime time.Time
	EndTime   time.Time
}

// NewActivity mints an activity for the given interval.
func NewActivity(zone string, start, end time.Time) Activity {
	return Activity{
		ID:        uuid.New(),
		Zone:      zone,
		StartTime: start,
		EndTime:   end,
	}
}

// DurationMinutes returns the whole minutes covered by the interval.
func (a Activity) DurationMinutes() int {
	return int(a.EndTime.Sub(a.StartTime) / time.Minute)
}

// DayActivity is the per-(user, goal) bucket of one local calendar day. It
// exclusively owns its ordered activity list; the last element is always the
// most recently appended or extended activity.
type DayActivity struct {
	ID               uuid.UUID
	UserAnonymizedID uuid.UUID
	GoalID           uuid.UUID
	Zone             string
	// Date is the start of the local calendar day in Zone.
	Date       time.Time
	Activities []Activity
}

// NewDayActivity creates an empty day bucket for the given local day.
func NewDayActivity(userAnonymizedID, goalID uuid.UUID, zone string, date time.Time) *DayActivity {
	return &DayActivity{
		ID:               uuid.New(),
		UserAnonymizedID: userAnonymizedID,
		GoalID:           goalID,
		Zone:             zone,
		Date:             date,
	}
}

// AddActivity appends an activity to the bucket, making it the new last
// activity.
func (d *DayActivity) AddActivity(a Activity) {
	d.Activities = append(d.Activities, a)
}

// LastActivity returns a pointer to the most recently recorded activity, or
// nil for an empty bucket. The pointer aliases the bucket's own storage so
// the caller can extend the activity in place.
func (d *DayActivity) LastActivity() *Activity {
	if len(d.Activities) == 0 {
		return nil
	}
	return &d.Activities[len(d.Activities)-1]
}

// EndOfDay returns the exclusive upper bound of the bucket's day.
func (d *DayActivity) EndOfDay() time.Time {
	return d.Date.Add(SpreadSlots * time.Hour)
}

// Spread distributes the bucket's active minutes across the 24 local hours
// of its day. It is derived from the activity list on every call.
func (d *DayActivity) Spread() [SpreadSlots]int {
	var spread [SpreadSlots]int
	dayEnd := d.EndOfDay()
	for _, a := range d.Activities {
		start := a.StartTime
		if start.Before(d.Date) {
			start = d.Date
		}
		end := a.EndTime
		if end.After(dayEnd) {
			end = dayEnd
		}
		for slot := 0; slot < SpreadSlots; slot++ {
			slotStart := d.Date.Add(time.Duration(slot) * time.Hour)
			slotEnd := slotStart.Add(time.Hour)
			if !start.Before(slotEnd) || !end.After(slotStart) {
				continue
			}
			overlapStart := start
			if overlapStart.Before(slotStart) {
				overlapStart = slotStart
			}
			overlapEnd := end
			if overlapEnd.After(slotEnd) {
				overlapEnd = slotEnd
			}
			spread[slot] += int(overlapEnd.Sub(overlapStart) / time.Minute)
		}
	}
	return spread
}

// TotalMinutes sums the duration of all recorded activities.
func (d *DayActivity) TotalMinutes() int {
	total := 0
	for _, a := range d.Activities {
		total += a.DurationMinutes()
	}
	return total
}

// WeekActivity aggregates the day buckets of one local week. It references
// its days without owning their lifecycle. Aggregates are recomputed from
// the children until the week is fully in the past, after which the cached
// values are authoritative.
type WeekActivity struct {
	ID               uuid.UUID
	UserAnonymizedID uuid.UUID
	GoalID           uuid.UUID
	Zone             string
	// StartOfWeek is the start of the local Sunday opening the week.
	StartOfWeek time.Time
	Days        []*DayActivity

	Spread             [SpreadSlots]int
	TotalMinutes       int
	DayCount           int
	AggregatesComputed bool
}

// NewWeekActivity creates an empty week bucket.
func NewWeekActivity(userAnonymizedID, goalID uuid.UUID, zone string, startOfWeek time.Time) *WeekActivity {
	return &WeekActivity{
		ID:               uuid.New(),
		UserAnonymizedID: userAnonymizedID,
		GoalID:           goalID,
		Zone:             zone,
		StartOfWeek:      startOfWeek,
	}
}

// EndTime returns the exclusive upper bound of the week.
func (w *WeekActivity) EndTime() time.Time {
	return w.StartOfWeek.AddDate(0, 0, DaysPerWeek)
}

// Closed reports whether the week is fully elapsed at the given instant.
func (w *WeekActivity) Closed(now time.Time) bool {
	return !now.Before(w.EndTime())
}

// AddDay attaches a day bucket to the week. Exceeding seven day buckets is
// an internal invariant violation and fails with ErrWeekBucketOverflow.
func (w *WeekActivity) AddDay(d *DayActivity) error {
	if len(w.Days) >= DaysPerWeek {
		return fmt.Errorf("week starting %s already holds %d day buckets: %w",
			w.StartOfWeek.Format("2006-01-02"), len(w.Days), ErrWeekBucketOverflow)
	}
	w.Days = append(w.Days, d)
	w.DayCount = len(w.Days)
	w.AggregatesComputed = false
	return nil
}

// ComputeAggregates recomputes the week spread and total from the attached
// day buckets. For a closed week the results are cached and subsequent calls
// return without rescanning the children.
func (w *WeekActivity) ComputeAggregates(now time.Time) error {
	if w.AggregatesComputed {
		return nil
	}
	if len(w.Days) > DaysPerWeek {
		return fmt.Errorf("week starting %s holds %d day buckets: %w",
			w.StartOfWeek.Format("2006-01-02"), len(w.Days), ErrWeekBucketOverflow)
	}

	var spread [SpreadSlots]int
	total := 0
	for _, day := range w.Days {
		daySpread := day.Spread()
		for i := range spread {
			spread[i] += daySpread[i]
		}
		total += day.TotalMinutes()
	}
	w.Spread = spread
	w.TotalMinutes = total
	w.DayCount = len(w.Days)
	w.AggregatesComputed = w.Closed(now)
	return nil
}
