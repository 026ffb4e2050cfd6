package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/n17-labs/transferwatch/internal/model"
)

// lockRegistry serializes writers per player id. Merges for different
// players proceed independently; two merges for the same player queue.
// Entries are reference-counted and removed once the last holder releases,
// so the registry stays proportional to in-flight players.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*playerLock
}

type playerLock struct {
	sem  chan struct{}
	refs int
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*playerLock)}
}

// acquire takes the lock for playerID, waiting up to timeout. On success the
// caller must invoke the returned release function on every exit path.
func (r *lockRegistry) acquire(ctx context.Context, playerID string, timeout time.Duration) (release func(), err error) {
	r.mu.Lock()
	pl, ok := r.locks[playerID]
	if !ok {
		pl = &playerLock{sem: make(chan struct{}, 1)}
		r.locks[playerID] = pl
	}
	pl.refs++
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case pl.sem <- struct{}{}:
		return func() {
			<-pl.sem
			r.put(playerID, pl)
		}, nil
	case <-timer.C:
		r.put(playerID, pl)
		return nil, eris.Wrapf(model.ErrMergeConflict, "player %s: lock timeout after %s", playerID, timeout)
	case <-ctx.Done():
		r.put(playerID, pl)
		return nil, eris.Wrapf(ctx.Err(), "player %s: lock wait canceled", playerID)
	}
}

func (r *lockRegistry) put(playerID string, pl *playerLock) {
	r.mu.Lock()
	pl.refs--
	if pl.refs == 0 {
		delete(r.locks, playerID)
	}
	r.mu.Unlock()
}
