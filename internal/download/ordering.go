package download

import "sort"

// Append places a download after the last occupied slot.
const Append = -1

// Ordering maps positions to download ids. Positions may be sparse: a slot with no
// occupant is a hole left for a download owned by another adapter, or by a
// persisted position that has not been compacted yet.
type Ordering struct {
	slots map[int]string
	byID  map[string]int
}

func NewOrdering() *Ordering {
	return &Ordering{slots: make(map[int]string), byID: make(map[string]int)}
}

// Len is one past the highest occupied slot.
func (o *Ordering) Len() int {
	n := 0
	for pos := range o.slots {
		if pos+1 > n {
			n = pos + 1
		}
	}
	return n
}

// Count is the number of placed ids.
func (o *Ordering) Count() int { return len(o.byID) }

func (o *Ordering) Position(id string) (int, bool) {
	pos, ok := o.byID[id]
	return pos, ok
}

// Place puts id at pos and returns the slot it ended up in.
//
// An id already placed is removed first. Append or a pos at or beyond Len is
// placed exactly there, leaving holes. A hole is occupied in place; otherwise
// id is inserted before the occupant and every later slot shifts up by one.
func (o *Ordering) Place(id string, pos int) int {
	o.Remove(id)
	if pos < 0 {
		pos = o.Len()
	}
	if _, taken := o.slots[pos]; taken {
		o.shift(pos, 1)
	}
	o.slots[pos] = id
	o.byID[id] = pos
	return pos
}

// Remove drops id; every later slot shifts down by one.
func (o *Ordering) Remove(id string) bool {
	pos, ok := o.byID[id]
	if !ok {
		return false
	}
	delete(o.byID, id)
	delete(o.slots, pos)
	o.shift(pos+1, -1)
	return true
}

// Vacate drops id and leaves its slot as a hole.
func (o *Ordering) Vacate(id string) bool {
	pos, ok := o.byID[id]
	if !ok {
		return false
	}
	delete(o.byID, id)
	delete(o.slots, pos)
	return true
}

// Set puts id at pos without shifting anything. The caller guarantees pos is free.
func (o *Ordering) Set(id string, pos int) {
	if old, ok := o.byID[id]; ok && o.slots[old] == id {
		delete(o.slots, old)
	}
	o.slots[pos] = id
	o.byID[id] = pos
}

// Compact renumbers ids to 0..Count()-1 keeping their relative order.
// It reports whether any position changed.
func (o *Ordering) Compact() bool {
	changed := false
	for i, id := range o.IDs() {
		if o.byID[id] != i {
			changed = true
		}
	}
	if !changed {
		return false
	}
	ids := o.IDs()
	o.Clear()
	for i, id := range ids {
		o.slots[i] = id
		o.byID[id] = i
	}
	return true
}

// IDs returns the placed ids in position order.
func (o *Ordering) IDs() []string {
	positions := make([]int, 0, len(o.slots))
	for pos := range o.slots {
		positions = append(positions, pos)
	}
	sort.Ints(positions)
	ids := make([]string, len(positions))
	for i, pos := range positions {
		ids[i] = o.slots[pos]
	}
	return ids
}

func (o *Ordering) Clear() {
	o.slots = make(map[int]string)
	o.byID = make(map[string]int)
}

// shift moves every slot at or after from by delta.
func (o *Ordering) shift(from, delta int) {
	var moving []int
	for pos := range o.slots {
		if pos >= from {
			moving = append(moving, pos)
		}
	}
	// Walk away from the direction of travel so slots never collide.
	if delta > 0 {
		sort.Sort(sort.Reverse(sort.IntSlice(moving)))
	} else {
		sort.Ints(moving)
	}
	for _, pos := range moving {
		id := o.slots[pos]
		delete(o.slots, pos)
		o.slots[pos+delta] = id
		o.byID[id] = pos + delta
	}
}
