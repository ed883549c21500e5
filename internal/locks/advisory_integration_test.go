//go:build integration

package locks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// Two separate connection pools stand in for two writer processes sharing
// one database.
func TestAdvisoryPoolSerializesAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	connStr := startDatabase(t, ctx)

	poolA, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(poolA.Close)
	poolB, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(poolB.Close)

	lockerA := NewAdvisoryPool(poolA)
	lockerB := NewAdvisoryPool(poolB)
	key := uuid.New()

	releaseA, err := lockerA.Acquire(ctx, key)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	_, err = lockerB.Acquire(waitCtx, key)
	require.Error(t, err, "the second writer must block while the lock is held")

	releaseOther, err := lockerB.Acquire(ctx, uuid.New())
	require.NoError(t, err, "distinct keys never contend")
	releaseOther()

	releaseA()

	releaseB, err := lockerB.Acquire(ctx, key)
	require.NoError(t, err)
	releaseB()
}

func TestAdvisoryPoolReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	connStr := startDatabase(t, ctx)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	locker := NewAdvisoryPool(pool)
	key := uuid.New()

	release, err := locker.Acquire(ctx, key)
	require.NoError(t, err)
	release()
	release()

	releaseAgain, err := locker.Acquire(ctx, key)
	require.NoError(t, err)
	releaseAgain()
}

func startDatabase(t *testing.T, ctx context.Context) string {
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
	return connStr
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
