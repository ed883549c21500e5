package locks

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AdvisoryPool is a Locker backed by Postgres session advisory locks, so
// every process writing to the same database contends on the same per-user
// lock. Each acquisition pins one pooled connection for the lifetime of the
// lock.
type AdvisoryPool struct {
	pool *pgxpool.Pool
}

// NewAdvisoryPool constructs an AdvisoryPool on the given connection pool.
func NewAdvisoryPool(pool *pgxpool.Pool) *AdvisoryPool {
	return &AdvisoryPool{pool: pool}
}

// Acquire implements Locker. A cancelled ctx aborts the wait; the session is
// discarded in that case because the grant may already be in flight on the
// server.
func (p *AdvisoryPool) Acquire(ctx context.Context, key uuid.UUID) (func(), error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for lock %s: %w", key, err)
	}

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, advisoryKey(key)); err != nil {
		_ = conn.Conn().Close(context.Background())
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock for %s: %w", key, err)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, advisoryKey(key)); err != nil {
				// Closing the session releases every advisory lock it
				// holds.
				_ = conn.Conn().Close(context.Background())
			}
			conn.Release()
		})
	}
	return release, nil
}

// advisoryKey folds a uuid into the bigint key space of advisory locks.
func advisoryKey(key uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(key[0:8]) ^ binary.BigEndian.Uint64(key[8:16]))
}
