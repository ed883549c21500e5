package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/analysis/internal/domain"
)

type bucketKey struct {
	userAnonymizedID uuid.UUID
	goalID           uuid.UUID
	date             string
}

func keyFor(userAnonymizedID, goalID uuid.UUID, date time.Time) bucketKey {
	return bucketKey{userAnonymizedID, goalID, date.Format("2006-01-02")}
}

func copyDay(d *domain.DayActivity) *domain.DayActivity {
	cp := *d
	cp.Activities = append([]domain.Activity(nil), d.Activities...)
	return &cp
}

func copyWeek(w *domain.WeekActivity) *domain.WeekActivity {
	cp := *w
	cp.Days = append([]*domain.DayActivity(nil), w.Days...)
	return &cp
}

// fakeStore backs the user, day and week repositories with shared maps so
// Save on the aggregate root is observable through the bucket finders, the
// way the real Postgres repositories behave.
type fakeStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*domain.UserAnonymized
	days  map[bucketKey]*domain.DayActivity
	weeks map[bucketKey]*domain.WeekActivity

	saveCalls int
	saveErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: make(map[uuid.UUID]*domain.UserAnonymized),
		days:  make(map[bucketKey]*domain.DayActivity),
		weeks: make(map[bucketKey]*domain.WeekActivity),
	}
}

type fakeUserRepo struct {
	store *fakeStore
}

func (r *fakeUserRepo) Get(ctx context.Context, id uuid.UUID) (*domain.UserAnonymized, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	user, ok := r.store.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return user, nil
}

func (r *fakeUserRepo) Save(ctx context.Context, user *domain.UserAnonymized) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.saveCalls++
	if r.store.saveErr != nil {
		return r.store.saveErr
	}
	for _, day := range user.TouchedDays() {
		r.store.days[keyFor(day.UserAnonymizedID, day.GoalID, day.Date)] = copyDay(day)
	}
	for _, week := range user.TouchedWeeks() {
		r.store.weeks[keyFor(week.UserAnonymizedID, week.GoalID, week.StartOfWeek)] = copyWeek(week)
	}
	return nil
}

type fakeDayRepo struct {
	store *fakeStore
}

func (r *fakeDayRepo) FindOne(ctx context.Context, userAnonymizedID, goalID uuid.UUID, date time.Time) (*domain.DayActivity, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	day, ok := r.store.days[keyFor(userAnonymizedID, goalID, date)]
	if !ok {
		return nil, nil
	}
	return copyDay(day), nil
}

func (r *fakeDayRepo) List(ctx context.Context, userAnonymizedID uuid.UUID, cursor *domain.Cursor, limit int) ([]*domain.DayActivity, *domain.Cursor, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []*domain.DayActivity
	for _, day := range r.store.days {
		if day.UserAnonymizedID == userAnonymizedID {
			out = append(out, copyDay(day))
		}
	}
	return out, nil, nil
}

type fakeWeekRepo struct {
	store *fakeStore
}

func (r *fakeWeekRepo) FindOne(ctx context.Context, userAnonymizedID, goalID uuid.UUID, startOfWeek time.Time) (*domain.WeekActivity, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	week, ok := r.store.weeks[keyFor(userAnonymizedID, goalID, startOfWeek)]
	if !ok {
		return nil, nil
	}
	return copyWeek(week), nil
}

func (r *fakeWeekRepo) List(ctx context.Context, userAnonymizedID uuid.UUID, cursor *domain.Cursor, limit int) ([]*domain.WeekActivity, *domain.Cursor, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []*domain.WeekActivity
	for _, week := range r.store.weeks {
		if week.UserAnonymizedID == userAnonymizedID {
			out = append(out, copyWeek(week))
		}
	}
	return out, nil, nil
}

func (r *fakeWeekRepo) SaveAggregates(ctx context.Context, week *domain.WeekActivity) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.weeks[keyFor(week.UserAnonymizedID, week.GoalID, week.StartOfWeek)] = copyWeek(week)
	return nil
}

type notifiedConflict struct {
	userAnonymizedID uuid.UUID
	activity         domain.Activity
	goal             domain.Goal
	url              string
}

type fakeNotifier struct {
	mu        sync.Mutex
	conflicts []notifiedConflict
	err       error
}

func (n *fakeNotifier) NotifyConflict(ctx context.Context, user *domain.UserAnonymized, activity domain.Activity, goal domain.Goal, url string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.err != nil {
		return n.err
	}
	n.conflicts = append(n.conflicts, notifiedConflict{
		userAnonymizedID: user.ID,
		activity:         activity,
		goal:             goal,
		url:              url,
	})
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.conflicts)
}
