package search

import (
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/smallbitmap"
)

// DeadEndsCache remembers combinations of conditions that select no
// document of the current universe. Any path holding all the conditions of
// a recorded combination can be skipped.
//
// Emptiness is relative to the universe, so the cache must be cleared when
// a new iteration starts. Within one iteration the universe only shrinks and
// recorded dead ends stay valid.
type DeadEndsCache[C comparable] struct {
	capacity  int
	forbidden []smallbitmap.SmallBitmap[C]
}

func NewDeadEndsCache[C comparable](capacity int) *DeadEndsCache[C] {
	return &DeadEndsCache[C]{capacity: capacity}
}

// Forbid records set as a dead end. Recorded supersets of set become
// redundant and are dropped.
func (d *DeadEndsCache[C]) Forbid(set smallbitmap.SmallBitmap[C]) {
	if d.IsForbidden(set) {
		return
	}
	kept := d.forbidden[:0]
	for _, f := range d.forbidden {
		if !f.IsSupersetOf(set) {
			kept = append(kept, f)
		}
	}
	d.forbidden = append(kept, set.Clone())
}

// IsForbidden reports whether conditions contains a recorded dead end.
func (d *DeadEndsCache[C]) IsForbidden(conditions smallbitmap.SmallBitmap[C]) bool {
	for _, f := range d.forbidden {
		if conditions.IsSupersetOf(f) {
			return true
		}
	}
	return false
}

// Len returns the number of recorded dead ends.
func (d *DeadEndsCache[C]) Len() int {
	return len(d.forbidden)
}

// Clear forgets every dead end.
func (d *DeadEndsCache[C]) Clear() {
	d.forbidden = nil
}
