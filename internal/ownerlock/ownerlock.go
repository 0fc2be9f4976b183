// Package ownerlock serialises work per dataset owner, within one process
// and optionally across processes through redis.
package ownerlock

import (
	"context"
	"errors"
	"sync"
)

var ErrNotAcquired = errors.New("owner lock not acquired")

// Locker grants exclusive access to one owner's record set. The returned
// function releases the lock and is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, ownerID int64) (func(), error)
}

type entry struct {
	sem  chan struct{}
	refs int
}

// Local is an in-process keyed mutex. Entries are dropped once no goroutine
// holds or waits for them.
type Local struct {
	mu    sync.Mutex
	locks map[int64]*entry
}

func NewLocal() *Local {
	return &Local{locks: make(map[int64]*entry)}
}

func (l *Local) Lock(ctx context.Context, ownerID int64) (func(), error) {
	l.mu.Lock()
	e := l.locks[ownerID]
	if e == nil {
		e = &entry{sem: make(chan struct{}, 1)}
		l.locks[ownerID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(ownerID, e)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.release(ownerID, e)
		})
	}, nil
}

func (l *Local) release(ownerID int64, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, ownerID)
	}
}

// size reports tracked owners; used by tests.
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// Chain acquires each locker in order and releases them in reverse.
type Chain []Locker

func (c Chain) Lock(ctx context.Context, ownerID int64) (func(), error) {
	unlocks := make([]func(), 0, len(c))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, locker := range c {
		if locker == nil {
			continue
		}
		unlock, err := locker.Lock(ctx, ownerID)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}
