package domain

import (
	"time"

	"github.com/google/uuid"
)

// Destination is an opaque message delivery target, either the user's own
// anonymous inbox or a buddy's.
type Destination struct {
	ID uuid.UUID
}

// UserAnonymized is the pseudonymized per-user aggregate root. All day and
// week bucket mutations are reachable only through it for persistence
// purposes: the engine attaches every bucket it creates or extends via
// TouchDay/TouchWeek and the repository persists the touched set in a single
// call.
type UserAnonymized struct {
	ID                uuid.UUID
	Zone              string
	Goals             []Goal
	SelfDestination   Destination
	BuddyDestinations []Destination

	touchedDays  map[uuid.UUID]*DayActivity
	touchedWeeks map[uuid.UUID]*WeekActivity
}

// Location resolves the user's IANA timezone.
func (u *UserAnonymized) Location() (*time.Location, error) {
	return time.LoadLocation(u.Zone)
}

// TouchDay registers a created or mutated day bucket for persistence.
func (u *UserAnonymized) TouchDay(d *DayActivity) {
	if u.touchedDays == nil {
		u.touchedDays = make(map[uuid.UUID]*DayActivity)
	}
	u.touchedDays[d.ID] = d
}

// TouchWeek registers a created or mutated week bucket for persistence.
func (u *UserAnonymized) TouchWeek(w *WeekActivity) {
	if u.touchedWeeks == nil {
		u.touchedWeeks = make(map[uuid.UUID]*WeekActivity)
	}
	u.touchedWeeks[w.ID] = w
}

// TouchedDays returns the day buckets registered since the aggregate was
// loaded.
func (u *UserAnonymized) TouchedDays() []*DayActivity {
	out := make([]*DayActivity, 0, len(u.touchedDays))
	for _, d := range u.touchedDays {
		out = append(out, d)
	}
	return out
}

// TouchedWeeks returns the week buckets registered since the aggregate was
// loaded.
func (u *UserAnonymized) TouchedWeeks() []*WeekActivity {
	out := make([]*WeekActivity, 0, len(u.touchedWeeks))
	for _, w := range u.touchedWeeks {
		out = append(out, w)
	}
	return out
}

// ClearTouched resets the touched-bucket tracking after a successful
// persistence pass. Buckets registered under one lock must never leak into a
// later Save, which rewrites every touched bucket wholesale.
func (u *UserAnonymized) ClearTouched() {
	u.touchedDays = nil
	u.touchedWeeks = nil
}
