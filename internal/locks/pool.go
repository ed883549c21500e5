// Package locks provides keyed exclusive locks used to serialize all
// event processing per user.
package locks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Locker hands out exclusive per-key locks. Acquire blocks until the lock is
// held or ctx is done; on success the returned release function must be
// called on every exit path.
type Locker interface {
	Acquire(ctx context.Context, key uuid.UUID) (func(), error)
}

// Pool is an in-process Locker. Locks for distinct keys never contend;
// acquisition for a held key blocks until the holder releases or the
// caller's context expires. Entries are removed as soon as the last holder
// or waiter is gone, so the pool does not grow with the user base. It only
// serializes writers within one process; deployments with several writer
// processes use AdvisoryPool instead.
type Pool struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// NewPool constructs an empty Pool.
func NewPool() *Pool {
	return &Pool{entries: make(map[uuid.UUID]*entry)}
}

// Acquire blocks until the lock for key is held or ctx is done. On success
// it returns a release function that must be called on every exit path.
func (p *Pool) Acquire(ctx context.Context, key uuid.UUID) (func(), error) {
	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		p.entries[key] = e
	}
	e.refs++
	p.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		release := func() {
			once.Do(func() {
				<-e.sem
				p.unref(key, e)
			})
		}
		return release, nil
	case <-ctx.Done():
		p.unref(key, e)
		return nil, fmt.Errorf("acquire lock for %s: %w", key, ctx.Err())
	}
}

func (p *Pool) unref(key uuid.UUID, e *entry) {
	p.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(p.entries, key)
	}
	p.mu.Unlock()
}

// Len reports the number of live entries, for tests and introspection.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
