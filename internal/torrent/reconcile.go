package torrent

import "slices"

// reconcileQueue returns the hashes to move up one engine slot, in order, so
// that the engine queue current follows target. Hashes in current but not in
// target keep their relative order behind the ranked ones; hashes in target
// the engine does not know are ignored.
//
// Every step swaps two neighbours that are out of order, so the number of
// steps equals the number of inversions between the two orders and no hash is
// visited twice.
func reconcileQueue(current, target []string) []string {
	inQueue := make(map[string]bool, len(current))
	for _, h := range current {
		inQueue[h] = true
	}
	ranked := make(map[string]bool, len(target))
	want := make([]string, 0, len(current))
	for _, h := range target {
		if inQueue[h] && !ranked[h] {
			ranked[h] = true
			want = append(want, h)
		}
	}
	for _, h := range current {
		if !ranked[h] {
			want = append(want, h)
		}
	}

	order := slices.Clone(current)
	index := make(map[string]int, len(order))
	for i, h := range order {
		index[h] = i
	}
	var moves []string
	for i, h := range want {
		for j := index[h]; j > i; j-- {
			order[j-1], order[j] = order[j], order[j-1]
			index[order[j]] = j
			index[h] = j - 1
			moves = append(moves, h)
		}
	}
	return moves
}
