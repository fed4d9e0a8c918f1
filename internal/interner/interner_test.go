package interner

import "testing"

func TestDedupInsertReturnsSameHandle(t *testing.T) {
	words := NewDedup[string]()
	a := words.Insert("sunflower")
	b := words.Insert("seed")
	c := words.Insert("sunflower")

	if a != c {
		t.Errorf("expected equal handles for equal values, got %v and %v", a, c)
	}
	if a == b {
		t.Errorf("distinct values must not share a handle")
	}
	if words.Len() != 2 {
		t.Errorf("expected 2 stored values, got %d", words.Len())
	}
	if got := words.Get(b); got != "seed" {
		t.Errorf("Get(%v) = %q, want %q", b, got, "seed")
	}
}

func TestDedupLookup(t *testing.T) {
	words := NewDedup[string]()
	words.Insert("alpha")

	if _, ok := words.Lookup("beta"); ok {
		t.Errorf("lookup of a missing value must fail")
	}
	h, ok := words.Lookup("alpha")
	if !ok || h.Index() != 0 {
		t.Errorf("lookup of alpha = (%v, %v), want (#0, true)", h, ok)
	}
}

func TestHandlesAreOrdered(t *testing.T) {
	words := NewDedup[string]()
	first := words.Insert("z")
	second := words.Insert("a")

	if first.Compare(second) != -1 || second.Compare(first) != 1 || first.Compare(first) != 0 {
		t.Errorf("handles must be ordered by insertion")
	}
	hs := words.Handles()
	if len(hs) != 2 || hs[0] != first || hs[1] != second {
		t.Errorf("unexpected handles %v", hs)
	}
}

func TestFixedSizeInterner(t *testing.T) {
	arena := NewFixed([]int{1}, []int{2, 3})
	h := arena.Push([]int{4})

	if arena.Len() != 3 {
		t.Fatalf("expected 3 values, got %d", arena.Len())
	}
	*arena.GetPtr(h) = append(arena.Get(h), 5)
	if got := arena.Get(h); len(got) != 2 || got[1] != 5 {
		t.Errorf("in-place update lost: %v", got)
	}

	clone := arena.Clone()
	clone.Push(nil)
	if arena.Len() != 3 {
		t.Errorf("clone must not share the arena")
	}
}

func TestMappedInterner(t *testing.T) {
	words := NewDedup[string]()
	words.Insert("a")
	words.Insert("bb")
	words.Insert("ccc")

	lengths := NewMapped[string, int](words.Len(), func(h Interned[string]) int {
		return len(words.Get(h))
	})
	for _, h := range words.Handles() {
		if lengths.Get(h) != len(words.Get(h)) {
			t.Errorf("mapped value for %v = %d", h, lengths.Get(h))
		}
	}
	lengths.Set(FromIndex[string](0), 10)
	if lengths.Get(FromIndex[string](0)) != 10 {
		t.Errorf("Set did not update the slot")
	}
}
