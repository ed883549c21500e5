// Package engine implements the activity analysis pipeline: it normalizes
// incoming activity events, maps them to the goals they affect, folds them
// into per-goal day and week buckets, and emits conflict notifications for
// no-go goals.
package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"example.com/analysis/internal/cache"
	"example.com/analysis/internal/catalog"
	"example.com/analysis/internal/domain"
	"example.com/analysis/internal/locks"
	"example.com/analysis/internal/observability"
)

const (
	// DeviceTimeInaccuracyMargin bounds the clock noise tolerated from
	// devices; offsets within it are ignored and validation allows this
	// much lead into the future.
	DeviceTimeInaccuracyMargin = 10 * time.Second
	// MinimumActivityDuration is the floor applied to newly created
	// activities.
	MinimumActivityDuration = time.Minute
)

// Config carries the tunables of the analysis pipeline.
type Config struct {
	// ConflictInterval is the maximum gap after the last activity's end
	// within which a new event still belongs to the same session.
	ConflictInterval time.Duration
	// UpdateSkipWindow drops extensions smaller than this to avoid write
	// amplification from rapid-fire reports.
	UpdateSkipWindow time.Duration
	// LockTimeout bounds the wait for the per-user lock.
	LockTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConflictInterval <= 0 {
		c.ConflictInterval = 15 * time.Minute
	}
	if c.UpdateSkipWindow <= 0 {
		c.UpdateSkipWindow = 5 * time.Second
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 30 * time.Second
	}
	return c
}

// ConflictNotifier dispatches a conflict for a newly recorded activity on a
// no-go goal.
type ConflictNotifier interface {
	NotifyConflict(ctx context.Context, user *domain.UserAnonymized, activity domain.Activity, goal domain.Goal, url string) error
}

// Dependencies lists the collaborators wired into the Service.
type Dependencies struct {
	Catalog  catalog.Catalog
	Cache    cache.LastActivityCache
	Users    domain.UserAnonymizedRepository
	Days     domain.DayActivityRepository
	Weeks    domain.WeekActivityRepository
	Notifier ConflictNotifier
	Locks    locks.Locker
}

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// Service orchestrates the analysis of incoming activity events.
type Service struct {
	cfg      Config
	catalog  catalog.Catalog
	cache    cache.LastActivityCache
	users    domain.UserAnonymizedRepository
	days     domain.DayActivityRepository
	weeks    domain.WeekActivityRepository
	notifier ConflictNotifier
	locks    locks.Locker
	now      func() time.Time
	logger   *log.Logger
}

// NewService constructs a Service.
func NewService(deps Dependencies, cfg Config, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg.withDefaults(),
		catalog:  deps.Catalog,
		cache:    deps.Cache,
		users:    deps.Users,
		days:     deps.Days,
		weeks:    deps.Weeks,
		notifier: deps.Notifier,
		locks:    deps.Locks,
		now:      time.Now,
		logger:   log.New(log.Writer(), "[engine] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AnalyzeAppActivity folds a batch of device-reported app usage intervals
// into the user's activity history. The whole batch shares one clock-skew
// offset. Events failing validation are reported in the returned slice and
// do not abort their siblings; an infrastructure failure aborts the batch.
func (s *Service) AnalyzeAppActivity(ctx context.Context, userAnonymizedID uuid.UUID, batch AppActivityBatch) ([]Rejection, error) {
	user, err := s.users.Get(ctx, userAnonymizedID)
	if err != nil {
		return nil, err
	}
	loc, err := user.Location()
	if err != nil {
		return nil, fmt.Errorf("resolve timezone %q: %w", user.Zone, err)
	}

	offset := deviceTimeOffset(batch.DeviceTime, s.now())

	var rejections []Rejection
	for _, appActivity := range batch.Activities {
		p, verr := s.buildAppPayload(user, loc, offset, appActivity)
		if verr != nil {
			observability.RecordEventRejected(string(verr.Code))
			rejections = append(rejections, Rejection{
				Application: appActivity.Application,
				StartTime:   appActivity.StartTime,
				EndTime:     appActivity.EndTime,
				Reason:      verr,
			})
			continue
		}

		categories, err := s.catalog.MatchingCategoriesForApp(ctx, appActivity.Application)
		if err != nil {
			return rejections, fmt.Errorf("match categories for app %q: %w", appActivity.Application, err)
		}
		if err := s.analyze(ctx, p, categoryIDSet(categories)); err != nil {
			return rejections, err
		}
	}
	return rejections, nil
}

// AnalyzeNetworkActivity folds one server-side network observation into the
// user's activity history. Network events carry no device clock and bypass
// offset correction; their interval is the observation instant.
func (s *Service) AnalyzeNetworkActivity(ctx context.Context, userAnonymizedID uuid.UUID, networkActivity NetworkActivity) error {
	user, err := s.users.Get(ctx, userAnonymizedID)
	if err != nil {
		return err
	}
	loc, err := user.Location()
	if err != nil {
		return fmt.Errorf("resolve timezone %q: %w", user.Zone, err)
	}

	observedAt := networkActivity.EventTime
	if observedAt.IsZero() {
		observedAt = s.now()
	}
	observedAt = observedAt.In(loc)

	categories, err := s.catalog.MatchingCategoriesForNetwork(ctx, networkActivity.Categories)
	if err != nil {
		return fmt.Errorf("match network categories: %w", err)
	}

	p := payload{
		user:  user,
		loc:   loc,
		url:   networkActivity.URL,
		start: observedAt,
		end:   observedAt,
	}
	return s.analyze(ctx, p, categoryIDSet(categories))
}

// RelevantNetworkCategories returns the union of all network category tags
// known to the catalog, for upstream gateways to filter on.
func (s *Service) RelevantNetworkCategories(ctx context.Context) ([]string, error) {
	categories, err := s.catalog.AllCategories(ctx)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{})
	for _, category := range categories {
		for tag := range category.NetworkCategories {
			set[tag] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for tag := range set {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out, nil
}

// userHolder tracks the side effects of one event-processing call: whether
// any mutation touched the user aggregate, plus the cache updates and
// conflict notifications that may only go out after the aggregate is
// durably persisted.
type userHolder struct {
	user  *domain.UserAnonymized
	dirty bool

	cacheUpdates []cacheUpdate
	conflicts    []pendingConflict
}

type cacheUpdate struct {
	goalID   uuid.UUID
	activity domain.Activity
}

type pendingConflict struct {
	activity domain.Activity
	goal     domain.Goal
	url      string
}

func (h *userHolder) markDirty() {
	h.dirty = true
}

func (h *userHolder) queueCacheUpdate(goalID uuid.UUID, activity domain.Activity) {
	h.cacheUpdates = append(h.cacheUpdates, cacheUpdate{goalID: goalID, activity: activity})
}

func (h *userHolder) queueConflict(activity domain.Activity, goal domain.Goal, url string) {
	h.conflicts = append(h.conflicts, pendingConflict{activity: activity, goal: goal, url: url})
}

// analyze runs one normalized event through the merge-or-create pipeline
// for every matching goal, serialized per user.
func (s *Service) analyze(ctx context.Context, p payload, matchedCategoryIDs map[uuid.UUID]struct{}) error {
	goals := matchGoals(p.user.Goals, matchedCategoryIDs, p.start)
	if len(goals) == 0 {
		return nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	defer cancel()

	waitStart := time.Now()
	release, err := s.locks.Acquire(lockCtx, p.user.ID)
	if err != nil {
		return err
	}
	observability.ObserveLockWait(time.Since(waitStart))
	defer release()

	holder := &userHolder{user: p.user}
	for _, goal := range goals {
		if err := s.addOrUpdateActivity(ctx, holder, p, goal); err != nil {
			return err
		}
	}

	if !holder.dirty {
		return nil
	}

	now := s.now()
	for _, week := range p.user.TouchedWeeks() {
		if err := week.ComputeAggregates(now); err != nil {
			return err
		}
	}
	if err := s.users.Save(ctx, p.user); err != nil {
		return fmt.Errorf("persist user aggregate: %w", err)
	}
	// Only buckets mutated under the current lock may be rewritten by the
	// next save for this user.
	p.user.ClearTouched()

	// Cache entries and notifications strictly follow the save: the fast
	// path must never point at an activity the store does not hold.
	for _, update := range holder.cacheUpdates {
		if err := s.cache.Put(ctx, p.user.ID, update.goalID, update.activity); err != nil {
			s.logger.Printf("cache update failed (user=%s, goal=%s): %v", p.user.ID, update.goalID, err)
		}
	}
	for _, conflict := range holder.conflicts {
		if err := s.notifier.NotifyConflict(ctx, p.user, conflict.activity, conflict.goal, conflict.url); err != nil {
			return err
		}
	}
	return nil
}

// addOrUpdateActivity splits an event crossing the local day boundary and
// processes each part against its own day bucket. An event never spans more
// than two calendar days.
func (s *Service) addOrUpdateActivity(ctx context.Context, holder *userHolder, p payload, goal domain.Goal) error {
	if s.isCrossDayActivity(p) {
		truncated := p.withEnd(startOfNextDay(p.loc, p.start))
		nextDay := p.withStart(startOfDay(p.loc, p.end))

		if err := s.addOrUpdateDayTruncatedActivity(ctx, holder, truncated, goal); err != nil {
			return err
		}
		return s.addOrUpdateDayTruncatedActivity(ctx, holder, nextDay, goal)
	}
	return s.addOrUpdateDayTruncatedActivity(ctx, holder, p, goal)
}

func (s *Service) isCrossDayActivity(p payload) bool {
	return startOfDay(p.loc, p.end).After(p.start)
}

func (s *Service) addOrUpdateDayTruncatedActivity(ctx context.Context, holder *userHolder, p payload, goal domain.Goal) error {
	last, err := s.lastRegisteredActivity(ctx, p, goal)
	if err != nil {
		return err
	}

	if s.canCombineWithLastRegisteredActivity(p, last) {
		if s.isBeyondSkipWindowAfterLastRegisteredActivity(p, last) {
			return s.updateActivityEndTime(ctx, holder, p, goal, last)
		}
		observability.RecordExtensionSkipped()
		return nil
	}
	return s.addActivity(ctx, holder, p, goal, last)
}

// lastRegisteredActivity serves the fast path from the cache and falls back
// to the day bucket store on a miss. The cache is never the sole source of
// truth.
func (s *Service) lastRegisteredActivity(ctx context.Context, p payload, goal domain.Goal) (*domain.Activity, error) {
	cached, err := s.cache.Get(ctx, p.user.ID, goal.ID)
	if err != nil {
		s.logger.Printf("cache lookup failed (user=%s, goal=%s): %v", p.user.ID, goal.ID, err)
	}
	if cached != nil {
		observability.RecordCacheLookup("hit")
		return cached, nil
	}
	observability.RecordCacheLookup("miss")

	day, err := s.days.FindOne(ctx, p.user.ID, goal.ID, startOfDay(p.loc, p.start))
	if err != nil {
		return nil, fmt.Errorf("find day bucket: %w", err)
	}
	if day == nil {
		return nil, nil
	}
	last := day.LastActivity()
	if last == nil {
		return nil, nil
	}
	activity := *last
	if putErr := s.cache.Put(ctx, p.user.ID, goal.ID, activity); putErr != nil {
		s.logger.Printf("cache prime failed (user=%s, goal=%s): %v", p.user.ID, goal.ID, putErr)
	}
	return &activity, nil
}

// canCombineWithLastRegisteredActivity decides whether the event extends the
// last recorded activity instead of opening a new one.
func (s *Service) canCombineWithLastRegisteredActivity(p payload, last *domain.Activity) bool {
	if last == nil {
		return false
	}
	if p.start.Before(last.StartTime) {
		// App activity can report an interval that started before a
		// previously recorded network event. Never merge backward; add
		// separately.
		return false
	}
	if p.start.After(last.EndTime.Add(s.cfg.ConflictInterval)) {
		return false
	}
	if startOfDay(p.loc, p.start).After(last.StartTime) {
		return false
	}
	return true
}

func (s *Service) isBeyondSkipWindowAfterLastRegisteredActivity(p payload, last *domain.Activity) bool {
	return p.end.Sub(last.EndTime) >= s.cfg.UpdateSkipWindow
}

// updateActivityEndTime commits an extension of the last activity of the
// event's day bucket. No notification is sent for extensions.
func (s *Service) updateActivityEndTime(ctx context.Context, holder *userHolder, p payload, goal domain.Goal, last *domain.Activity) error {
	day, err := s.days.FindOne(ctx, p.user.ID, goal.ID, startOfDay(p.loc, p.start))
	if err != nil {
		return fmt.Errorf("find day bucket: %w", err)
	}
	if day == nil || day.LastActivity() == nil {
		return fmt.Errorf("cached last activity %s has no day bucket: %w", last.ID, domain.ErrInconsistentState)
	}

	// The per-user lock guarantees this is the same activity the cache
	// reported.
	activity := day.LastActivity()
	activity.EndTime = p.end

	holder.markDirty()
	p.user.TouchDay(day)
	observability.RecordActivityExtended()

	if s.shouldUpdateCache(last, *activity) {
		holder.queueCacheUpdate(goal.ID, *activity)
	}
	return nil
}

// addActivity appends a new activity, lazily creating the day bucket and
// its enclosing week bucket. For no-go goals a conflict is queued for
// dispatch after the aggregate is persisted.
func (s *Service) addActivity(ctx context.Context, holder *userHolder, p payload, goal domain.Goal, last *domain.Activity) error {
	date := startOfDay(p.loc, p.start)
	day, err := s.days.FindOne(ctx, p.user.ID, goal.ID, date)
	if err != nil {
		return fmt.Errorf("find day bucket: %w", err)
	}
	if day == nil {
		day, err = s.createDayActivity(ctx, p, goal, date)
		if err != nil {
			return err
		}
	}

	end := p.end
	if end.Sub(p.start) < MinimumActivityDuration {
		end = p.start.Add(MinimumActivityDuration)
	}
	activity := domain.NewActivity(p.user.Zone, p.start, end)
	day.AddActivity(activity)

	holder.markDirty()
	p.user.TouchDay(day)
	observability.RecordActivityCreated()

	if s.shouldUpdateCache(last, activity) {
		holder.queueCacheUpdate(goal.ID, activity)
	}
	if goal.NoGo {
		holder.queueConflict(activity, goal, p.url)
	}
	return nil
}

func (s *Service) createDayActivity(ctx context.Context, p payload, goal domain.Goal, date time.Time) (*domain.DayActivity, error) {
	day := domain.NewDayActivity(p.user.ID, goal.ID, p.user.Zone, date)

	weekStart := startOfWeek(p.loc, p.start)
	week, err := s.weeks.FindOne(ctx, p.user.ID, goal.ID, weekStart)
	if err != nil {
		return nil, fmt.Errorf("find week bucket: %w", err)
	}
	if week == nil {
		week = domain.NewWeekActivity(p.user.ID, goal.ID, p.user.Zone, weekStart)
	}
	if err := week.AddDay(day); err != nil {
		return nil, err
	}
	p.user.TouchWeek(week)
	return day, nil
}

// shouldUpdateCache enforces the cache update policy: never regress a
// cached entry to an earlier end time, so out-of-order delivery cannot make
// the fast path stale.
func (s *Service) shouldUpdateCache(last *domain.Activity, newOrUpdated domain.Activity) bool {
	if last == nil {
		return true
	}
	return !newOrUpdated.EndTime.Before(last.EndTime)
}
