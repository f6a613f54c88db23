// Package lock provides per-player locking so that a single player's
// actions are handled one at a time while different players proceed
// concurrently.
package lock

import "sync"

// playerMutex wraps a mutex so the map stores a stable pointer.
type playerMutex struct {
	mu sync.Mutex
}

// PlayerLock provides per-player locking. It serializes a player's own
// menu actions and pending-input consumption; cross-player invariants
// are enforced by conditional updates in the store, not by this lock.
type PlayerLock struct {
	locks sync.Map // map[int64]*playerMutex
}

// NewPlayerLock creates a new PlayerLock instance.
func NewPlayerLock() *PlayerLock {
	return &PlayerLock{}
}

func (pl *PlayerLock) getLock(playerID int64) *playerMutex {
	if v, ok := pl.locks.Load(playerID); ok {
		return v.(*playerMutex)
	}
	actual, _ := pl.locks.LoadOrStore(playerID, &playerMutex{})
	return actual.(*playerMutex)
}

// Lock acquires the lock for a player.
func (pl *PlayerLock) Lock(playerID int64) {
	pl.getLock(playerID).mu.Lock()
}

// Unlock releases the lock for a player.
func (pl *PlayerLock) Unlock(playerID int64) {
	if v, ok := pl.locks.Load(playerID); ok {
		v.(*playerMutex).mu.Unlock()
	}
}

// TryLock attempts to acquire the lock without blocking.
func (pl *PlayerLock) TryLock(playerID int64) bool {
	return pl.getLock(playerID).mu.TryLock()
}

// WithLock executes fn while holding the player's lock.
func (pl *PlayerLock) WithLock(playerID int64, fn func() error) error {
	pl.Lock(playerID)
	defer pl.Unlock(playerID)
	return fn()
}
