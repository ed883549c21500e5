//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/analysis/internal/catalog"
	"example.com/analysis/internal/domain"
)

func TestRepositoriesRoundTrip(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)

	users := NewUserAnonymizedRepository(pool)
	days := NewDayActivityRepository(pool)
	weeks := NewWeekActivityRepository(pool)

	categoryID := uuid.New()
	_, err := pool.Exec(ctx, `INSERT INTO activity_categories (id, name, network_categories, applications)
        VALUES ($1, 'gambling', '{poker,lotto}', '{"Poker App"}')`, categoryID)
	require.NoError(t, err)

	userID := uuid.New()
	selfDestination := uuid.New()
	_, err = pool.Exec(ctx, `INSERT INTO users_anonymized (id, zone, self_destination_id)
        VALUES ($1, 'Europe/Amsterdam', $2)`, userID, selfDestination)
	require.NoError(t, err)

	buddyDestination := uuid.New()
	_, err = pool.Exec(ctx, `INSERT INTO buddy_destinations (user_anonymized_id, destination_id)
        VALUES ($1, $2)`, userID, buddyDestination)
	require.NoError(t, err)

	goalID := uuid.New()
	goalCreation := time.Date(2026, time.February, 1, 9, 0, 0, 0, time.UTC)
	_, err = pool.Exec(ctx, `INSERT INTO goals (id, user_anonymized_id, activity_category_id, no_go, creation_time)
        VALUES ($1, $2, $3, TRUE, $4)`, goalID, userID, categoryID, goalCreation)
	require.NoError(t, err)

	user, err := users.Get(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, "Europe/Amsterdam", user.Zone)
	require.Equal(t, selfDestination, user.SelfDestination.ID)
	require.Len(t, user.BuddyDestinations, 1)
	require.Len(t, user.Goals, 1)
	require.True(t, user.Goals[0].NoGo)
	require.Equal(t, categoryID, user.Goals[0].ActivityCategoryID)

	_, err = users.Get(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrUserNotFound)

	loc, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)

	date := time.Date(2026, time.March, 2, 0, 0, 0, 0, loc)
	day := domain.NewDayActivity(userID, goalID, "Europe/Amsterdam", date)
	day.AddActivity(domain.NewActivity("Europe/Amsterdam",
		time.Date(2026, time.March, 2, 10, 0, 0, 0, loc),
		time.Date(2026, time.March, 2, 10, 5, 0, 0, loc)))

	weekStart := time.Date(2026, time.March, 1, 0, 0, 0, 0, loc)
	week := domain.NewWeekActivity(userID, goalID, "Europe/Amsterdam", weekStart)
	require.NoError(t, week.AddDay(day))

	user.TouchDay(day)
	user.TouchWeek(week)
	require.NoError(t, users.Save(ctx, user))

	stored, err := days.FindOne(ctx, userID, goalID, date)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, day.ID, stored.ID)
	require.Len(t, stored.Activities, 1)
	require.True(t, stored.Activities[0].EndTime.Equal(time.Date(2026, time.March, 2, 10, 5, 0, 0, loc)))
	require.Equal(t, 5, stored.TotalMinutes())

	missing, err := days.FindOne(ctx, userID, goalID, date.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Nil(t, missing)

	// Extend the activity and save again; the bucket row is reused and the
	// activity list rewritten.
	day.LastActivity().EndTime = time.Date(2026, time.March, 2, 10, 20, 0, 0, loc)
	user.TouchDay(day)
	require.NoError(t, users.Save(ctx, user))

	stored, err = days.FindOne(ctx, userID, goalID, date)
	require.NoError(t, err)
	require.Len(t, stored.Activities, 1)
	require.Equal(t, 20, stored.TotalMinutes())

	storedWeek, err := weeks.FindOne(ctx, userID, goalID, weekStart)
	require.NoError(t, err)
	require.NotNil(t, storedWeek)
	require.Equal(t, week.ID, storedWeek.ID)
	require.Len(t, storedWeek.Days, 1, "day buckets attach by local date range")
	require.False(t, storedWeek.AggregatesComputed)
	require.NoError(t, storedWeek.ComputeAggregates(time.Date(2026, time.March, 4, 0, 0, 0, 0, loc)))
	require.Equal(t, 20, storedWeek.TotalMinutes)
	require.False(t, storedWeek.AggregatesComputed, "the week is still running on March 4th")

	// Recomputing after the week has ended seals it; the persisted
	// aggregates then serve listings without the day buckets.
	require.NoError(t, storedWeek.ComputeAggregates(time.Date(2026, time.March, 9, 0, 0, 0, 0, loc)))
	require.True(t, storedWeek.AggregatesComputed)
	require.NoError(t, weeks.SaveAggregates(ctx, storedWeek))

	listed, _, err := weeks.List(ctx, userID, nil, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.True(t, listed[0].AggregatesComputed)
	require.Equal(t, 20, listed[0].TotalMinutes)
	require.Equal(t, 1, listed[0].DayCount)
	require.Empty(t, listed[0].Days, "sealed weeks skip day loading")
}

func TestDayActivityListPagination(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)

	users := NewUserAnonymizedRepository(pool)
	days := NewDayActivityRepository(pool)

	categoryID := uuid.New()
	_, err := pool.Exec(ctx, `INSERT INTO activity_categories (id, name) VALUES ($1, 'news')`, categoryID)
	require.NoError(t, err)

	userID := uuid.New()
	_, err = pool.Exec(ctx, `INSERT INTO users_anonymized (id, zone, self_destination_id)
        VALUES ($1, 'UTC', $2)`, userID, uuid.New())
	require.NoError(t, err)

	goalID := uuid.New()
	_, err = pool.Exec(ctx, `INSERT INTO goals (id, user_anonymized_id, activity_category_id, creation_time)
        VALUES ($1, $2, $3, now())`, goalID, userID, categoryID)
	require.NoError(t, err)

	user, err := users.Get(ctx, userID)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		date := time.Date(2026, time.March, 2+i, 0, 0, 0, 0, time.UTC)
		day := domain.NewDayActivity(userID, goalID, "UTC", date)
		day.AddActivity(domain.NewActivity("UTC", date.Add(10*time.Hour), date.Add(10*time.Hour+30*time.Minute)))
		user.TouchDay(day)
	}
	require.NoError(t, users.Save(ctx, user))

	firstPage, cursor, err := days.List(ctx, userID, nil, 3)
	require.NoError(t, err)
	require.Len(t, firstPage, 3)
	require.NotNil(t, cursor)
	require.True(t, firstPage[0].Date.After(firstPage[1].Date), "most recent date first")

	secondPage, _, err := days.List(ctx, userID, cursor, 3)
	require.NoError(t, err)
	require.Len(t, secondPage, 2)
	require.True(t, secondPage[0].Date.Before(firstPage[2].Date))
}

func TestPostgresCatalogMatching(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)

	cat := catalog.NewPostgresCatalog(pool)

	_, err := pool.Exec(ctx, `INSERT INTO activity_categories (id, name, network_categories, applications) VALUES
        ($1, 'gambling', '{poker,lotto}', '{"Poker App"}'),
        ($2, 'news', '{refdag,bbc}', '{}')`, uuid.New(), uuid.New())
	require.NoError(t, err)

	byApp, err := cat.MatchingCategoriesForApp(ctx, "Poker App")
	require.NoError(t, err)
	require.Len(t, byApp, 1)
	require.Equal(t, "gambling", byApp[0].Name)

	byApp, err = cat.MatchingCategoriesForApp(ctx, "Chess App")
	require.NoError(t, err)
	require.Empty(t, byApp)

	byNetwork, err := cat.MatchingCategoriesForNetwork(ctx, []string{"bbc", "sports"})
	require.NoError(t, err)
	require.Len(t, byNetwork, 1)
	require.Equal(t, "news", byNetwork[0].Name)

	all, err := cat.AllCategories(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Contains(t, all[0].NetworkCategories, "poker")
}

func startDatabase(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("analysis"),
		postgrescontainer.WithUsername("analysis"),
		postgrescontainer.WithPassword("analysis"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, waitForDatabase(ctx, connStr))
	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	files := []string{
		"../../../db/postgres/migrations/0001_init.up.sql",
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, rel := range files {
		path := resolvePath(t, rel)
		contents, readErr := os.ReadFile(path)
		require.NoError(t, readErr)

		_, execErr := pool.Exec(ctx, string(contents))
		require.NoError(t, execErr)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
