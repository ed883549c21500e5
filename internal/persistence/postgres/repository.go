// Package postgres implements the repository contracts on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/analysis/internal/domain"
)

const dateFormat = "2006-01-02"

// UserAnonymizedRepository loads and persists the pseudonymized user
// aggregate: the user row, its goals, its notification destinations and any
// touched activity buckets.
type UserAnonymizedRepository struct {
	pool *pgxpool.Pool
}

// NewUserAnonymizedRepository constructs a UserAnonymizedRepository.
func NewUserAnonymizedRepository(pool *pgxpool.Pool) *UserAnonymizedRepository {
	return &UserAnonymizedRepository{pool: pool}
}

// Get loads the full aggregate. Returns domain.ErrUserNotFound for an
// unknown id.
func (r *UserAnonymizedRepository) Get(ctx context.Context, id uuid.UUID) (*domain.UserAnonymized, error) {
	const userQuery = `SELECT id, zone, self_destination_id FROM users_anonymized WHERE id=$1`

	user := &domain.UserAnonymized{}
	row := r.pool.QueryRow(ctx, userQuery, id)
	if err := row.Scan(&user.ID, &user.Zone, &user.SelfDestination.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("load user %s: %w", id, err)
	}

	const goalQuery = `SELECT id, activity_category_id, no_go, creation_time, history_item
        FROM goals WHERE user_anonymized_id=$1 ORDER BY creation_time, id`

	rows, err := r.pool.Query(ctx, goalQuery, id)
	if err != nil {
		return nil, fmt.Errorf("load goals for user %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var g domain.Goal
		if err := rows.Scan(&g.ID, &g.ActivityCategoryID, &g.NoGo, &g.CreationTime, &g.HistoryItem); err != nil {
			return nil, err
		}
		user.Goals = append(user.Goals, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	const buddyQuery = `SELECT destination_id FROM buddy_destinations
        WHERE user_anonymized_id=$1 ORDER BY destination_id`

	buddyRows, err := r.pool.Query(ctx, buddyQuery, id)
	if err != nil {
		return nil, fmt.Errorf("load buddy destinations for user %s: %w", id, err)
	}
	defer buddyRows.Close()
	for buddyRows.Next() {
		var d domain.Destination
		if err := buddyRows.Scan(&d.ID); err != nil {
			return nil, err
		}
		user.BuddyDestinations = append(user.BuddyDestinations, d)
	}
	if err := buddyRows.Err(); err != nil {
		return nil, err
	}

	return user, nil
}

// Save writes every touched day and week bucket in one transaction. The
// per-user advisory lock held by the engine guarantees no concurrent writer
// for the same aggregate, so plain upserts are safe. Callers must only touch
// buckets mutated under the currently held lock.
func (r *UserAnonymizedRepository) Save(ctx context.Context, user *domain.UserAnonymized) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, week := range user.TouchedWeeks() {
		if err := upsertWeek(ctx, tx, week); err != nil {
			return err
		}
	}
	for _, day := range user.TouchedDays() {
		if err := upsertDay(ctx, tx, day); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func upsertDay(ctx context.Context, tx pgx.Tx, day *domain.DayActivity) error {
	const stmt = `INSERT INTO day_activities (id, user_anonymized_id, goal_id, zone, date)
        VALUES ($1,$2,$3,$4,$5::date)
        ON CONFLICT (user_anonymized_id, goal_id, date) DO UPDATE SET zone=EXCLUDED.zone
        RETURNING id`

	var dayID uuid.UUID
	err := tx.QueryRow(ctx, stmt,
		day.ID, day.UserAnonymizedID, day.GoalID, day.Zone, day.Date.Format(dateFormat),
	).Scan(&dayID)
	if err != nil {
		return fmt.Errorf("upsert day bucket %s: %w", day.ID, err)
	}

	// The activity list is owned exclusively by the bucket; rewrite it
	// wholesale to preserve ordering.
	if _, err := tx.Exec(ctx, `DELETE FROM activities WHERE day_activity_id=$1`, dayID); err != nil {
		return fmt.Errorf("clear activities of day bucket %s: %w", dayID, err)
	}
	const insertActivity = `INSERT INTO activities (id, day_activity_id, zone, start_time, end_time, position)
        VALUES ($1,$2,$3,$4,$5,$6)`
	for i, a := range day.Activities {
		if _, err := tx.Exec(ctx, insertActivity, a.ID, dayID, a.Zone, a.StartTime, a.EndTime, i); err != nil {
			return fmt.Errorf("insert activity %s: %w", a.ID, err)
		}
	}
	return nil
}

func upsertWeek(ctx context.Context, tx pgx.Tx, week *domain.WeekActivity) error {
	const stmt = `INSERT INTO week_activities (id, user_anonymized_id, goal_id, zone, start_of_week, spread, total_minutes, day_count, aggregates_computed)
        VALUES ($1,$2,$3,$4,$5::date,$6,$7,$8,$9)
        ON CONFLICT (user_anonymized_id, goal_id, start_of_week) DO UPDATE
        SET spread=EXCLUDED.spread,
            total_minutes=EXCLUDED.total_minutes,
            day_count=EXCLUDED.day_count,
            aggregates_computed=EXCLUDED.aggregates_computed`

	_, err := tx.Exec(ctx, stmt,
		week.ID, week.UserAnonymizedID, week.GoalID, week.Zone,
		week.StartOfWeek.Format(dateFormat),
		spreadToSlice(week.Spread), week.TotalMinutes, week.DayCount, week.AggregatesComputed,
	)
	if err != nil {
		return fmt.Errorf("upsert week bucket %s: %w", week.ID, err)
	}
	return nil
}

// DayActivityRepository reads day buckets with their activity lists.
type DayActivityRepository struct {
	pool *pgxpool.Pool
}

// NewDayActivityRepository constructs a DayActivityRepository.
func NewDayActivityRepository(pool *pgxpool.Pool) *DayActivityRepository {
	return &DayActivityRepository{pool: pool}
}

// FindOne returns the bucket for (user, goal, local date), or nil when the
// user has no recorded activity for that day yet.
func (r *DayActivityRepository) FindOne(ctx context.Context, userAnonymizedID, goalID uuid.UUID, date time.Time) (*domain.DayActivity, error) {
	const query = `SELECT id, user_anonymized_id, goal_id, zone, date FROM day_activities
        WHERE user_anonymized_id=$1 AND goal_id=$2 AND date=$3::date`

	row := r.pool.QueryRow(ctx, query, userAnonymizedID, goalID, date.Format(dateFormat))
	day, err := scanDay(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := attachActivities(ctx, r.pool, day); err != nil {
		return nil, err
	}
	return day, nil
}

// List pages day buckets for a user, most recent local date first.
func (r *DayActivityRepository) List(ctx context.Context, userAnonymizedID uuid.UUID, cursor *domain.Cursor, limit int) ([]*domain.DayActivity, *domain.Cursor, error) {
	args := []any{userAnonymizedID, limit}
	query := `SELECT id, user_anonymized_id, goal_id, zone, date FROM day_activities
        WHERE user_anonymized_id=$1`
	if cursor != nil {
		query += ` AND (date, id) < ($3::date, $4::uuid)`
		args = append(args, cursor.Date.Format(dateFormat), cursor.ID)
	}
	query += ` ORDER BY date DESC, id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	days := make([]*domain.DayActivity, 0, limit)
	for rows.Next() {
		day, err := scanDay(rows)
		if err != nil {
			return nil, nil, err
		}
		days = append(days, day)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	rows.Close()

	for _, day := range days {
		if err := attachActivities(ctx, r.pool, day); err != nil {
			return nil, nil, err
		}
	}

	var next *domain.Cursor
	if len(days) == limit {
		last := days[len(days)-1]
		next = &domain.Cursor{Date: last.Date, ID: last.ID.String()}
	}
	return days, next, nil
}

// WeekActivityRepository reads week buckets. Day buckets are attached by
// local date range; a closed week serves its cached aggregates without
// touching the children.
type WeekActivityRepository struct {
	pool *pgxpool.Pool
}

// NewWeekActivityRepository constructs a WeekActivityRepository.
func NewWeekActivityRepository(pool *pgxpool.Pool) *WeekActivityRepository {
	return &WeekActivityRepository{pool: pool}
}

// FindOne returns the bucket for (user, goal, start of local week) with its
// day buckets attached, or nil when absent.
func (r *WeekActivityRepository) FindOne(ctx context.Context, userAnonymizedID, goalID uuid.UUID, startOfWeek time.Time) (*domain.WeekActivity, error) {
	const query = `SELECT id, user_anonymized_id, goal_id, zone, start_of_week, spread, total_minutes, day_count, aggregates_computed
        FROM week_activities
        WHERE user_anonymized_id=$1 AND goal_id=$2 AND start_of_week=$3::date`

	row := r.pool.QueryRow(ctx, query, userAnonymizedID, goalID, startOfWeek.Format(dateFormat))
	week, err := scanWeek(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := attachDays(ctx, r.pool, week); err != nil {
		return nil, err
	}
	return week, nil
}

// List pages week buckets for a user, most recent week first. Weeks whose
// aggregates are already cached skip day loading.
func (r *WeekActivityRepository) List(ctx context.Context, userAnonymizedID uuid.UUID, cursor *domain.Cursor, limit int) ([]*domain.WeekActivity, *domain.Cursor, error) {
	args := []any{userAnonymizedID, limit}
	query := `SELECT id, user_anonymized_id, goal_id, zone, start_of_week, spread, total_minutes, day_count, aggregates_computed
        FROM week_activities
        WHERE user_anonymized_id=$1`
	if cursor != nil {
		query += ` AND (start_of_week, id) < ($3::date, $4::uuid)`
		args = append(args, cursor.Date.Format(dateFormat), cursor.ID)
	}
	query += ` ORDER BY start_of_week DESC, id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	weeks := make([]*domain.WeekActivity, 0, limit)
	for rows.Next() {
		week, err := scanWeek(rows)
		if err != nil {
			return nil, nil, err
		}
		weeks = append(weeks, week)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	rows.Close()

	for _, week := range weeks {
		if week.AggregatesComputed {
			continue
		}
		if err := attachDays(ctx, r.pool, week); err != nil {
			return nil, nil, err
		}
	}

	var next *domain.Cursor
	if len(weeks) == limit {
		last := weeks[len(weeks)-1]
		next = &domain.Cursor{Date: last.StartOfWeek, ID: last.ID.String()}
	}
	return weeks, next, nil
}

// SaveAggregates stores a week's computed spread and totals. Once the
// computed flag is persisted as true, listings serve the row's values
// without loading the day buckets.
func (r *WeekActivityRepository) SaveAggregates(ctx context.Context, week *domain.WeekActivity) error {
	const stmt = `UPDATE week_activities
        SET spread=$2, total_minutes=$3, day_count=$4, aggregates_computed=$5
        WHERE id=$1`

	_, err := r.pool.Exec(ctx, stmt,
		week.ID, spreadToSlice(week.Spread), week.TotalMinutes, week.DayCount, week.AggregatesComputed)
	if err != nil {
		return fmt.Errorf("save aggregates of week bucket %s: %w", week.ID, err)
	}
	return nil
}

func scanDay(row pgx.Row) (*domain.DayActivity, error) {
	day := &domain.DayActivity{}
	var date time.Time
	if err := row.Scan(&day.ID, &day.UserAnonymizedID, &day.GoalID, &day.Zone, &date); err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(day.Zone)
	if err != nil {
		return nil, fmt.Errorf("resolve timezone %q of day bucket %s: %w", day.Zone, day.ID, err)
	}
	day.Date = localMidnight(date, loc)
	return day, nil
}

func scanWeek(row pgx.Row) (*domain.WeekActivity, error) {
	week := &domain.WeekActivity{}
	var startOfWeek time.Time
	var spread []int32
	if err := row.Scan(&week.ID, &week.UserAnonymizedID, &week.GoalID, &week.Zone, &startOfWeek,
		&spread, &week.TotalMinutes, &week.DayCount, &week.AggregatesComputed); err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(week.Zone)
	if err != nil {
		return nil, fmt.Errorf("resolve timezone %q of week bucket %s: %w", week.Zone, week.ID, err)
	}
	week.StartOfWeek = localMidnight(startOfWeek, loc)
	week.Spread = spreadFromSlice(spread)
	return week, nil
}

func attachActivities(ctx context.Context, q querierRows, day *domain.DayActivity) error {
	const query = `SELECT id, zone, start_time, end_time FROM activities
        WHERE day_activity_id=$1 ORDER BY position`

	loc, err := time.LoadLocation(day.Zone)
	if err != nil {
		return fmt.Errorf("resolve timezone %q of day bucket %s: %w", day.Zone, day.ID, err)
	}

	rows, err := q.Query(ctx, query, day.ID)
	if err != nil {
		return fmt.Errorf("load activities of day bucket %s: %w", day.ID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var a domain.Activity
		if err := rows.Scan(&a.ID, &a.Zone, &a.StartTime, &a.EndTime); err != nil {
			return err
		}
		a.StartTime = a.StartTime.In(loc)
		a.EndTime = a.EndTime.In(loc)
		day.Activities = append(day.Activities, a)
	}
	return rows.Err()
}

func attachDays(ctx context.Context, q querierRows, week *domain.WeekActivity) error {
	const query = `SELECT id, user_anonymized_id, goal_id, zone, date FROM day_activities
        WHERE user_anonymized_id=$1 AND goal_id=$2 AND date >= $3::date AND date < $4::date
        ORDER BY date`

	weekEnd := week.StartOfWeek.AddDate(0, 0, domain.DaysPerWeek)
	rows, err := q.Query(ctx, query,
		week.UserAnonymizedID, week.GoalID,
		week.StartOfWeek.Format(dateFormat), weekEnd.Format(dateFormat))
	if err != nil {
		return fmt.Errorf("load day buckets of week %s: %w", week.ID, err)
	}
	defer rows.Close()

	var days []*domain.DayActivity
	for rows.Next() {
		day, err := scanDay(rows)
		if err != nil {
			return err
		}
		days = append(days, day)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	for _, day := range days {
		if err := attachActivities(ctx, q, day); err != nil {
			return err
		}
		if err := week.AddDay(day); err != nil {
			return err
		}
	}
	return nil
}

// querierRows is the read-side subset of querier.
type querierRows interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func localMidnight(dbDate time.Time, loc *time.Location) time.Time {
	y, m, d := dbDate.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func spreadToSlice(spread [domain.SpreadSlots]int) []int32 {
	out := make([]int32, domain.SpreadSlots)
	for i, v := range spread {
		out[i] = int32(v)
	}
	return out
}

func spreadFromSlice(in []int32) [domain.SpreadSlots]int {
	var out [domain.SpreadSlots]int
	for i := 0; i < len(in) && i < domain.SpreadSlots; i++ {
		out[i] = int(in[i])
	}
	return out
}
