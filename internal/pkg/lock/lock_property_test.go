// Package lock provides per-player locking.
// Property-based tests for serialization of a single player's actions.
package lock

import (
	"sync"
	"testing"

	"pgregory.net/rapid"
)

// TestPerPlayerSerializationProperty checks that concurrent operations on
// the same player, executed under the lock, are equivalent to sequential
// execution.
func TestPerPlayerSerializationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numOps := rapid.IntRange(2, 30).Draw(t, "numOps")
		playerID := rapid.Int64Range(1, 1_000_000).Draw(t, "playerID")

		pl := NewPlayerLock()

		// Unprotected counter mutated only under the lock.
		counter := 0

		var wg sync.WaitGroup
		wg.Add(numOps)
		for i := 0; i < numOps; i++ {
			go func() {
				defer wg.Done()
				pl.Lock(playerID)
				defer pl.Unlock(playerID)
				counter++
			}()
		}
		wg.Wait()

		if counter != numOps {
			t.Fatalf("lost updates under lock: expected %d, got %d", numOps, counter)
		}
	})
}

// TestTryLockExclusionProperty checks that TryLock fails while the lock is
// held and succeeds after release.
func TestTryLockExclusionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		playerID := rapid.Int64Range(1, 1_000_000).Draw(t, "playerID")
		otherID := rapid.Int64Range(1_000_001, 2_000_000).Draw(t, "otherID")

		pl := NewPlayerLock()

		pl.Lock(playerID)
		if pl.TryLock(playerID) {
			t.Fatalf("TryLock succeeded while lock held for player %d", playerID)
		}
		// A different player's lock is independent.
		if !pl.TryLock(otherID) {
			t.Fatalf("TryLock failed for unrelated player %d", otherID)
		}
		pl.Unlock(otherID)
		pl.Unlock(playerID)

		if !pl.TryLock(playerID) {
			t.Fatalf("TryLock failed after release for player %d", playerID)
		}
		pl.Unlock(playerID)
	})
}

// TestWithLockReleasesOnError checks that WithLock releases the lock even
// when fn returns an error.
func TestWithLockReleasesOnError(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		playerID := rapid.Int64Range(1, 1_000_000).Draw(t, "playerID")

		pl := NewPlayerLock()
		_ = pl.WithLock(playerID, func() error {
			return errTest
		})

		if !pl.TryLock(playerID) {
			t.Fatalf("lock not released after WithLock error")
		}
		pl.Unlock(playerID)
	})
}

var errTest = errSentinel("test error")

type errSentinel string

func (e errSentinel) Error() string { return string(e) }
