// Package smallbitmap implements a fixed-capacity bit set over interner
// handles. It is used to represent sets of ranking-rule graph conditions:
// the conditions of a path, forbidden conditions and dead-end combinations.
package smallbitmap

import (
	"math/bits"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/interner"
)

// SmallBitmap is a set of handles to T values, all with an index below the
// capacity given at construction.
type SmallBitmap[T any] struct {
	capacity int
	words    []uint64
}

// New returns an empty set able to hold handles with an index < capacity.
func New[T any](capacity int) SmallBitmap[T] {
	return SmallBitmap[T]{
		capacity: capacity,
		words:    make([]uint64, (capacity+63)/64),
	}
}

// FromHandles returns a set of the given capacity holding handles.
func FromHandles[T any](capacity int, handles ...interner.Interned[T]) SmallBitmap[T] {
	s := New[T](capacity)
	for _, h := range handles {
		s.Insert(h)
	}
	return s
}

// Capacity returns the exclusive upper bound on stored indexes.
func (s SmallBitmap[T]) Capacity() int {
	return s.capacity
}

// Insert adds h to the set.
func (s *SmallBitmap[T]) Insert(h interner.Interned[T]) {
	i := s.check(h)
	s.words[i/64] |= 1 << (uint(i) % 64)
}

// Remove deletes h from the set.
func (s *SmallBitmap[T]) Remove(h interner.Interned[T]) {
	i := s.check(h)
	s.words[i/64] &^= 1 << (uint(i) % 64)
}

// Contains reports whether h is in the set.
func (s SmallBitmap[T]) Contains(h interner.Interned[T]) bool {
	i := h.Index()
	if i >= s.capacity {
		return false
	}
	return s.words[i/64]&(1<<(uint(i)%64)) != 0
}

// IsEmpty reports whether the set holds no handle.
func (s SmallBitmap[T]) IsEmpty() bool {
	for _, w := range s.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// Len returns the number of handles in the set.
func (s SmallBitmap[T]) Len() int {
	n := 0
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Clear removes every handle.
func (s *SmallBitmap[T]) Clear() {
	for i := range s.words {
		s.words[i] = 0
	}
}

// Clone returns an independent copy.
func (s SmallBitmap[T]) Clone() SmallBitmap[T] {
	words := make([]uint64, len(s.words))
	copy(words, s.words)
	return SmallBitmap[T]{capacity: s.capacity, words: words}
}

// Union adds every handle of other to s.
func (s *SmallBitmap[T]) Union(other SmallBitmap[T]) {
	for i := range s.words {
		if i < len(other.words) {
			s.words[i] |= other.words[i]
		}
	}
}

// Intersection keeps only the handles also present in other.
func (s *SmallBitmap[T]) Intersection(other SmallBitmap[T]) {
	for i := range s.words {
		if i < len(other.words) {
			s.words[i] &= other.words[i]
		} else {
			s.words[i] = 0
		}
	}
}

// Intersects reports whether s and other share at least one handle.
func (s SmallBitmap[T]) Intersects(other SmallBitmap[T]) bool {
	n := min(len(s.words), len(other.words))
	for i := 0; i < n; i++ {
		if s.words[i]&other.words[i] != 0 {
			return true
		}
	}
	return false
}

// IsSupersetOf reports whether every handle of other is also in s.
func (s SmallBitmap[T]) IsSupersetOf(other SmallBitmap[T]) bool {
	for i, w := range other.words {
		var mine uint64
		if i < len(s.words) {
			mine = s.words[i]
		}
		if w&^mine != 0 {
			return false
		}
	}
	return true
}

// Handles returns the handles of the set in ascending order.
func (s SmallBitmap[T]) Handles() []interner.Interned[T] {
	out := make([]interner.Interned[T], 0, s.Len())
	for wi, w := range s.words {
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			out = append(out, interner.FromIndex[T](wi*64+tz))
			w &= w - 1
		}
	}
	return out
}

func (s SmallBitmap[T]) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, h := range s.Handles() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(h.String())
	}
	sb.WriteByte('}')
	return sb.String()
}

func (s SmallBitmap[T]) check(h interner.Interned[T]) int {
	i := h.Index()
	if i >= s.capacity {
		panic("smallbitmap: handle exceeds capacity")
	}
	return i
}
