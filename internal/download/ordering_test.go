package download

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrdering_AppendAndInsert(t *testing.T) {
	o := NewOrdering()
	assert.Equal(t, 0, o.Place("a", Append))
	assert.Equal(t, 1, o.Place("b", Append))
	assert.Equal(t, 2, o.Place("c", Append))

	// Insert before the occupant of slot 1.
	assert.Equal(t, 1, o.Place("d", 1))
	assert.Equal(t, []string{"a", "d", "b", "c"}, o.IDs())
	pos, _ := o.Position("c")
	assert.Equal(t, 3, pos)
}

func TestOrdering_MoveToFront(t *testing.T) {
	o := NewOrdering()
	o.Place("a", Append)
	o.Place("b", Append)

	o.Place("b", 0)
	assert.Equal(t, []string{"b", "a"}, o.IDs())
	pa, _ := o.Position("a")
	pb, _ := o.Position("b")
	assert.Equal(t, 1, pa)
	assert.Equal(t, 0, pb)
}

func TestOrdering_SparseRestoreKeepsPositions(t *testing.T) {
	o := NewOrdering()
	o.Place("x", 0)
	o.Place("y", 2)
	o.Place("z", 5)

	assert.Equal(t, []string{"x", "y", "z"}, o.IDs())
	for id, want := range map[string]int{"x": 0, "y": 2, "z": 5} {
		got, ok := o.Position(id)
		require.True(t, ok)
		assert.Equal(t, want, got, id)
	}
	assert.Equal(t, 6, o.Len())
	assert.Equal(t, 3, o.Count())
}

func TestOrdering_HoleIsOccupiedInPlace(t *testing.T) {
	o := NewOrdering()
	o.Place("x", 0)
	o.Place("z", 3)

	o.Place("y", 1)
	pz, _ := o.Position("z")
	assert.Equal(t, 3, pz, "occupying a hole must not shift later slots")
	assert.Equal(t, []string{"x", "y", "z"}, o.IDs())
}

func TestOrdering_RemoveShiftsDown(t *testing.T) {
	o := NewOrdering()
	o.Place("a", 0)
	o.Place("b", 2)
	o.Place("c", 4)

	assert.True(t, o.Remove("a"))
	assert.False(t, o.Remove("a"))
	pb, _ := o.Position("b")
	pc, _ := o.Position("c")
	assert.Equal(t, 1, pb)
	assert.Equal(t, 3, pc)
}

func TestOrdering_Compact(t *testing.T) {
	o := NewOrdering()
	o.Place("a", 3)
	o.Place("b", 7)
	o.Place("c", 8)

	assert.True(t, o.Compact())
	assert.False(t, o.Compact())
	assert.Equal(t, []string{"a", "b", "c"}, o.IDs())
	for i, id := range o.IDs() {
		pos, _ := o.Position(id)
		assert.Equal(t, i, pos)
	}
}

func TestOrdering_CompactIsDenseAndUnique(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		o := NewOrdering()
		live := map[string]bool{}
		for step := 0; step < 60; step++ {
			id := fmt.Sprintf("d%d", rng.Intn(20))
			switch rng.Intn(4) {
			case 0:
				o.Remove(id)
				delete(live, id)
			case 1:
				o.Place(id, Append)
				live[id] = true
			default:
				o.Place(id, rng.Intn(30))
				live[id] = true
			}
		}
		require.Equal(t, len(live), o.Count())

		o.Compact()
		seen := map[int]bool{}
		for id := range live {
			pos, ok := o.Position(id)
			require.True(t, ok, id)
			assert.GreaterOrEqual(t, pos, 0)
			assert.Less(t, pos, len(live))
			assert.False(t, seen[pos], "duplicate position %d", pos)
			seen[pos] = true
		}
	}
}

func TestOrdering_SetDoesNotShift(t *testing.T) {
	o := NewOrdering()
	o.Place("a", 0)
	o.Place("b", 1)
	o.Set("a", 4)

	pa, _ := o.Position("a")
	pb, _ := o.Position("b")
	assert.Equal(t, 4, pa)
	assert.Equal(t, 1, pb)
}
