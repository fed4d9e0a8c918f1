// Package interner provides append-only arenas that hand out small integer
// handles for values. Handles compare and hash in O(1), and per-handle side
// tables can be built as plain slices instead of maps.
//
// A handle is only meaningful for the interner that produced it. Interners
// are not safe for concurrent use; each search owns its own instances.
package interner

import (
	"fmt"
	"math"
)

// Interned is a handle to a value of type T stored in an interner.
type Interned[T any] struct {
	idx uint32
}

// FromIndex builds a handle from its raw index. Only use it with indexes
// obtained from Index on a handle of the same interner.
func FromIndex[T any](idx int) Interned[T] {
	return Interned[T]{idx: uint32(idx)}
}

// Index returns the position of the value in its interner.
func (i Interned[T]) Index() int {
	return int(i.idx)
}

// Compare orders handles by insertion order.
func (i Interned[T]) Compare(other Interned[T]) int {
	switch {
	case i.idx < other.idx:
		return -1
	case i.idx > other.idx:
		return 1
	default:
		return 0
	}
}

func (i Interned[T]) String() string {
	return fmt.Sprintf("#%d", i.idx)
}

// DedupInterner stores each distinct value once. Inserting an equal value
// again returns the existing handle.
type DedupInterner[T comparable] struct {
	stash  []T
	lookup map[T]Interned[T]
}

// NewDedup returns an empty DedupInterner.
func NewDedup[T comparable]() *DedupInterner[T] {
	return &DedupInterner[T]{
		lookup: make(map[T]Interned[T]),
	}
}

// Insert returns the handle of v, allocating one if v was never seen.
func (d *DedupInterner[T]) Insert(v T) Interned[T] {
	if h, ok := d.lookup[v]; ok {
		return h
	}
	if len(d.stash) >= math.MaxUint32 {
		panic("interner: arena is full")
	}
	h := Interned[T]{idx: uint32(len(d.stash))}
	d.stash = append(d.stash, v)
	d.lookup[v] = h
	return h
}

// Lookup returns the handle of v without inserting it.
func (d *DedupInterner[T]) Lookup(v T) (Interned[T], bool) {
	h, ok := d.lookup[v]
	return h, ok
}

// Get returns the value behind h. It panics if h was produced by another
// interner and falls outside this one.
func (d *DedupInterner[T]) Get(h Interned[T]) T {
	return d.stash[h.idx]
}

// Len returns the number of distinct values stored.
func (d *DedupInterner[T]) Len() int {
	return len(d.stash)
}

// Handles returns every handle in insertion order.
func (d *DedupInterner[T]) Handles() []Interned[T] {
	return handles[T](len(d.stash))
}

// FixedSizeInterner is an arena without deduplication, used for values that
// are not comparable (query nodes, query terms).
type FixedSizeInterner[T any] struct {
	stash []T
}

// NewFixed returns an arena holding items, in order.
func NewFixed[T any](items ...T) *FixedSizeInterner[T] {
	stash := make([]T, len(items))
	copy(stash, items)
	return &FixedSizeInterner[T]{stash: stash}
}

// Push appends v and returns its handle.
func (f *FixedSizeInterner[T]) Push(v T) Interned[T] {
	h := Interned[T]{idx: uint32(len(f.stash))}
	f.stash = append(f.stash, v)
	return h
}

// Get returns the value behind h.
func (f *FixedSizeInterner[T]) Get(h Interned[T]) T {
	return f.stash[h.idx]
}

// GetPtr returns a pointer to the value behind h, for in-place updates.
func (f *FixedSizeInterner[T]) GetPtr(h Interned[T]) *T {
	return &f.stash[h.idx]
}

// Len returns the number of values stored.
func (f *FixedSizeInterner[T]) Len() int {
	return len(f.stash)
}

// Handles returns every handle in insertion order.
func (f *FixedSizeInterner[T]) Handles() []Interned[T] {
	return handles[T](len(f.stash))
}

// Clone returns an independent copy of the arena. Values are copied
// shallowly.
func (f *FixedSizeInterner[T]) Clone() *FixedSizeInterner[T] {
	return NewFixed(f.stash...)
}

// MappedInterner is a side table holding one value of type T for every
// handle of an interner of From values.
type MappedInterner[From any, T any] struct {
	stash []T
}

// NewMapped builds a table of size n, filling each slot with init(handle).
func NewMapped[From any, T any](n int, init func(Interned[From]) T) *MappedInterner[From, T] {
	stash := make([]T, n)
	if init != nil {
		for i := range stash {
			stash[i] = init(Interned[From]{idx: uint32(i)})
		}
	}
	return &MappedInterner[From, T]{stash: stash}
}

// Get returns the value stored for h.
func (m *MappedInterner[From, T]) Get(h Interned[From]) T {
	return m.stash[h.idx]
}

// GetPtr returns a pointer to the slot of h.
func (m *MappedInterner[From, T]) GetPtr(h Interned[From]) *T {
	return &m.stash[h.idx]
}

// Set replaces the value stored for h.
func (m *MappedInterner[From, T]) Set(h Interned[From], v T) {
	m.stash[h.idx] = v
}

// Len returns the size of the table.
func (m *MappedInterner[From, T]) Len() int {
	return len(m.stash)
}

func handles[T any](n int) []Interned[T] {
	out := make([]Interned[T], n)
	for i := range out {
		out[i] = Interned[T]{idx: uint32(i)}
	}
	return out
}
