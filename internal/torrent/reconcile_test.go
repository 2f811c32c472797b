package torrent

import (
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

// apply replays moves on current the way the engine would.
func apply(current, moves []string) []string {
	out := slices.Clone(current)
	for _, h := range moves {
		i := slices.Index(out, h)
		if i > 0 {
			out[i-1], out[i] = out[i], out[i-1]
		}
	}
	return out
}

func inversions(current, want []string) int {
	rank := make(map[string]int, len(want))
	for i, h := range want {
		rank[h] = i
	}
	n := 0
	for i := range current {
		for j := i + 1; j < len(current); j++ {
			if rank[current[i]] > rank[current[j]] {
				n++
			}
		}
	}
	return n
}

func TestReconcileQueue(t *testing.T) {
	tests := []struct {
		name    string
		current []string
		target  []string
		want    []string
		moves   int
	}{
		{"in order", []string{"a", "b", "c"}, []string{"a", "b", "c"}, []string{"a", "b", "c"}, 0},
		{"last to front", []string{"a", "b", "c"}, []string{"c", "a", "b"}, []string{"c", "a", "b"}, 2},
		{"reversed", []string{"a", "b", "c"}, []string{"c", "b", "a"}, []string{"c", "b", "a"}, 3},
		{"unranked stay behind", []string{"x", "a", "y", "b"}, []string{"b", "a"}, []string{"b", "a", "x", "y"}, 4},
		{"unknown targets ignored", []string{"a", "b"}, []string{"z", "b", "a"}, []string{"b", "a"}, 1},
		{"empty engine", nil, []string{"a"}, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			moves := reconcileQueue(tt.current, tt.target)
			assert.Len(t, moves, tt.moves)
			assert.Equal(t, tt.want, apply(tt.current, moves))
		})
	}
}

func TestReconcileQueue_RandomPermutations(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		n := 1 + rng.Intn(12)
		current := make([]string, n)
		for i := range current {
			current[i] = fmt.Sprintf("h%02d", i)
		}
		rng.Shuffle(n, func(i, j int) { current[i], current[j] = current[j], current[i] })

		// Rank a random subset; the rest keep their engine order at the tail.
		target := slices.Clone(current)
		rng.Shuffle(n, func(i, j int) { target[i], target[j] = target[j], target[i] })
		target = target[:rng.Intn(n+1)]

		want := slices.Clone(target)
		for _, h := range current {
			if !slices.Contains(target, h) {
				want = append(want, h)
			}
		}

		moves := reconcileQueue(current, target)
		assert.Equal(t, want, apply(current, moves), "round %d", round)
		assert.Len(t, moves, inversions(current, want), "round %d", round)
		assert.Empty(t, reconcileQueue(want, target), "round %d", round)
	}
}
