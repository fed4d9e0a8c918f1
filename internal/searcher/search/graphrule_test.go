package search

import (
	"slices"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/interner"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/smallbitmap"
)

// countingKind counts the condition resolutions of the typo rule.
type countingKind struct {
	typoKind
	resolved map[TypoCondition]int
	states   []GraphState
}

func (k *countingKind) ResolveCondition(c *Context, cond TypoCondition, universe *roaring.Bitmap) (*roaring.Bitmap, error) {
	k.resolved[cond]++
	return k.typoKind.ResolveCondition(c, cond, universe)
}

func (k *countingKind) LogState(_ SearchLogger, state GraphState) {
	k.states = append(k.states, state)
}

func typoSnapshot(t *testing.T) *index.Snapshot {
	return newSnapshot(t, index.Settings{SearchableFields: []string{"title"}},
		map[string]any{"id": "0", "title": "quick brown"},
		map[string]any{"id": "1", "title": "quack brown"},
		map[string]any{"id": "2", "title": "quick brawn"},
		map[string]any{"id": "3", "title": "quack brawn"},
	)
}

func TestGraphRuleBucketsByCost(t *testing.T) {
	snap := typoSnapshot(t)
	c := NewContext(snap, TypoSettings{})
	query, err := BuildQueryGraph(c, parser.Parse("quick brown "))
	if err != nil {
		t.Fatalf("BuildQueryGraph: %v", err)
	}
	kind := &countingKind{resolved: make(map[TypoCondition]int)}
	rule := newGraphBasedRule[TypoCondition]("typo", kind)

	universe := roaring.BitmapOf(0, 1, 2, 3)
	if err := rule.StartIteration(c, NoopLogger{}, universe, query); err != nil {
		t.Fatalf("StartIteration: %v", err)
	}
	var buckets [][]uint32
	for {
		b, err := rule.NextBucket(c, NoopLogger{}, universe)
		if err != nil {
			t.Fatalf("NextBucket: %v", err)
		}
		if b == nil {
			break
		}
		if b.Query != query {
			t.Errorf("bucket query changed")
		}
		buckets = append(buckets, b.Candidates.ToArray())
		universe.AndNot(b.Candidates)
	}
	rule.EndIteration(c, NoopLogger{})

	want := [][]uint32{{0}, {1, 2}, {3}}
	if !slices.EqualFunc(buckets, want, slices.Equal[[]uint32]) {
		t.Errorf("buckets = %v, want %v", buckets, want)
	}
	// quick~0, quick~1, brown~0, brown~1 and the empty 2-gram
	if len(kind.resolved) != 5 {
		t.Errorf("resolved %d conditions, want 5: %v", len(kind.resolved), kind.resolved)
	}
	for cond, n := range kind.resolved {
		if n != 1 {
			t.Errorf("condition %v resolved %d times", cond, n)
		}
	}
	if len(kind.states) == 0 || kind.states[0].DeadEnds != 1 {
		t.Errorf("the empty 2-gram was not recorded as a dead end: %+v", kind.states)
	}
	for i := 1; i < len(kind.states); i++ {
		if kind.states[i].DeadEnds < kind.states[i-1].DeadEnds {
			t.Errorf("dead ends shrank: %+v", kind.states)
		}
	}
}

func TestVisitPathsOfCostSkipsDeadEnds(t *testing.T) {
	snap := typoSnapshot(t)
	c := NewContext(snap, TypoSettings{})
	query, err := BuildQueryGraph(c, parser.Parse("quick brown "))
	if err != nil {
		t.Fatalf("BuildQueryGraph: %v", err)
	}
	g, err := BuildRankingRuleGraph[TypoCondition](c, typoKind{}, query)
	if err != nil {
		t.Fatalf("BuildRankingRuleGraph: %v", err)
	}
	dist := g.AllDistances(c)
	if got := dist.Get(query.Root); !slices.Equal(got, []uint32{0, 1, 2}) {
		t.Fatalf("distances from root = %v", got)
	}

	describe := func(path []interner.Interned[TypoCondition]) string {
		var s string
		for _, h := range path {
			cond := g.Conditions.Get(h)
			s += c.describe(cond.Term) + "~" + string(rune('0'+cond.Typos)) + " "
		}
		return s
	}
	visit := func(cost uint32, dead *DeadEndsCache[TypoCondition]) []string {
		var paths []string
		err := g.VisitPathsOfCost(c, cost, dist, dead, func(path []interner.Interned[TypoCondition]) (bool, error) {
			paths = append(paths, describe(path))
			return true, nil
		})
		if err != nil {
			t.Fatalf("VisitPathsOfCost: %v", err)
		}
		return paths
	}

	dead := NewDeadEndsCache[TypoCondition](g.Conditions.Len())
	if got, want := visit(1, dead), []string{"quick~0 brown~1 ", "quick~1 brown~0 "}; !slices.Equal(got, want) {
		t.Errorf("cost 1 paths = %v, want %v", got, want)
	}

	var quickOneTypo interner.Interned[TypoCondition]
	for _, h := range g.Conditions.Handles() {
		if cond := g.Conditions.Get(h); cond.Typos == 1 && c.describe(cond.Term) == "quick" {
			quickOneTypo = h
		}
	}
	dead.Forbid(smallbitmap.FromHandles(g.Conditions.Len(), quickOneTypo))
	if got, want := visit(1, dead), []string{"quick~0 brown~1 "}; !slices.Equal(got, want) {
		t.Errorf("cost 1 paths with dead end = %v, want %v", got, want)
	}
	if got := visit(2, dead); len(got) != 0 {
		t.Errorf("cost 2 paths with dead end = %v, want none", got)
	}
}

func TestDeadEndsCache(t *testing.T) {
	h := interner.FromIndex[TypoCondition]
	set := func(idx ...int) smallbitmap.SmallBitmap[TypoCondition] {
		s := smallbitmap.New[TypoCondition](8)
		for _, i := range idx {
			s.Insert(h(i))
		}
		return s
	}

	d := NewDeadEndsCache[TypoCondition](8)
	d.Forbid(set(1, 2))
	if !d.IsForbidden(set(1, 2, 3)) {
		t.Errorf("superset of a dead end is not forbidden")
	}
	if d.IsForbidden(set(1, 3)) {
		t.Errorf("unrelated set is forbidden")
	}
	d.Forbid(set(1, 2, 5))
	if d.Len() != 1 {
		t.Errorf("Len() = %d after forbidding a superset, want 1", d.Len())
	}
	d.Forbid(set(2))
	if d.Len() != 1 || !d.IsForbidden(set(2, 7)) {
		t.Errorf("subset did not replace the recorded dead end, Len() = %d", d.Len())
	}
	d.Clear()
	if d.IsForbidden(set(2)) {
		t.Errorf("Clear kept dead ends")
	}
}
