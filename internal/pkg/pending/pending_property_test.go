// Package pending tracks per-participant pending text input.
// Property-based tests for the consumed-exactly-once guarantee.
package pending

import (
	"sync"
	"sync/atomic"
	"testing"

	"pgregory.net/rapid"
)

// TestTakeConsumesExactlyOnceProperty checks that among any number of
// concurrent Take calls for the same participant, exactly one succeeds.
func TestTakeConsumesExactlyOnceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		participantID := rapid.Int64Range(1, 1_000_000).Draw(t, "participantID")
		numTakers := rapid.IntRange(2, 20).Draw(t, "numTakers")

		r := NewRegistry()
		r.Set(participantID, KindCode)

		var successes int64
		var wg sync.WaitGroup
		wg.Add(numTakers)
		for i := 0; i < numTakers; i++ {
			go func() {
				defer wg.Done()
				if kind, ok := r.Take(participantID); ok {
					if kind != KindCode {
						t.Errorf("unexpected kind %q", kind)
					}
					atomic.AddInt64(&successes, 1)
				}
			}()
		}
		wg.Wait()

		if successes != 1 {
			t.Fatalf("expected exactly one successful Take, got %d", successes)
		}

		// Flag must be cleared after consumption.
		if _, ok := r.Peek(participantID); ok {
			t.Fatalf("pending input still present after Take")
		}
	})
}

// TestSetReplacesKindProperty checks that a later Set overrides the
// previous pending kind.
func TestSetReplacesKindProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		participantID := rapid.Int64Range(1, 1_000_000).Draw(t, "participantID")

		r := NewRegistry()
		r.Set(participantID, KindCode)
		r.Set(participantID, KindAdminCodes)

		kind, ok := r.Take(participantID)
		if !ok || kind != KindAdminCodes {
			t.Fatalf("expected KindAdminCodes, got %q ok=%v", kind, ok)
		}
	})
}

func TestTakeWithoutSet(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Take(42); ok {
		t.Fatal("Take succeeded without a pending input")
	}
}

func TestClear(t *testing.T) {
	r := NewRegistry()
	r.Set(42, KindCode)
	r.Clear(42)
	if _, ok := r.Take(42); ok {
		t.Fatal("Take succeeded after Clear")
	}
}
