package service

import "math/rand"

// shuffled returns a shuffled copy of the input, leaving it intact.
func shuffled[T any](items []T) []T {
	out := make([]T, len(items))
	copy(out, items)
	rand.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}

// derangedOwners permutes the owner ids so that the result is a
// permutation of the input. A single pass of Fisher-Yates is enough; the
// contract is "never duplicates or drops a player", not "everyone moves".
func derangedOwners(owners []int64) []int64 {
	return shuffled(owners)
}

// roundRobin deals leads across recipients in order, one at a time. A
// lead is never dealt to the recipient it points at; when the turn lands
// on that recipient the deal rotates to the next one. A lead whose only
// recipient is itself is dropped. An empty recipients list yields nil.
func roundRobin(leads []int64, recipients []int64) map[int64][]int64 {
	if len(recipients) == 0 || len(leads) == 0 {
		return nil
	}
	out := make(map[int64][]int64)
	next := 0
	for _, lead := range leads {
		for try := 0; try < len(recipients); try++ {
			r := recipients[(next+try)%len(recipients)]
			if r == lead {
				continue
			}
			out[r] = append(out[r], lead)
			next = (next + try + 1) % len(recipients)
			break
		}
	}
	return out
}

// normalizeCodes uppercases, trims, and deduplicates a batch of codes,
// preserving first-seen order.
func normalizeCodes(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	var out []string
	for _, c := range raw {
		c = normalizeCode(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
