package search

import (
	"slices"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/searcher/parser"
)

func TestBuildQueryGraph(t *testing.T) {
	snap := newSnapshot(t, index.Settings{SearchableFields: []string{"title"}},
		map[string]any{"id": "0", "title": "sun flower field"},
	)
	c := NewContext(snap, TypoSettings{})

	g, err := BuildQueryGraph(c, parser.Parse("sun flower field "))
	if err != nil {
		t.Fatalf("BuildQueryGraph: %v", err)
	}
	want := "START->sun, START->sunflower, sun->flower, sun->flowerfield, " +
		"sunflower->field, flower->field, flowerfield->END, field->END"
	if got := g.Describe(c); got != want {
		t.Errorf("Describe() =\n%s\nwant\n%s", got, want)
	}
	if starts := g.termStarts(c); !slices.Equal(starts, []int{0, 1, 2}) {
		t.Errorf("termStarts = %v", starts)
	}

	placeholder, err := BuildQueryGraph(c, parser.Parse("  "))
	if err != nil || placeholder != nil {
		t.Errorf("placeholder graph = %v, %v; want nil, nil", placeholder, err)
	}
}

func TestQueryGraphPhraseHasNoNgram(t *testing.T) {
	snap := newSnapshot(t, index.Settings{SearchableFields: []string{"title"}},
		map[string]any{"id": "0", "title": "big apple pie"},
	)
	c := NewContext(snap, TypoSettings{})
	g, err := BuildQueryGraph(c, parser.Parse(`"big apple" pie `))
	if err != nil {
		t.Fatalf("BuildQueryGraph: %v", err)
	}
	want := `START->"big apple", "big apple"->pie, pie->END`
	if got := g.Describe(c); got != want {
		t.Errorf("Describe() = %s, want %s", got, want)
	}
}

func TestRemoveTermsKeepsPathsConnected(t *testing.T) {
	snap := newSnapshot(t, index.Settings{SearchableFields: []string{"title"}},
		map[string]any{"id": "0", "title": "a b c"},
	)
	c := NewContext(snap, TypoSettings{})
	g, err := BuildQueryGraph(c, parser.Parse("a b c "))
	if err != nil {
		t.Fatalf("BuildQueryGraph: %v", err)
	}
	before := g.Describe(c)

	reduced := g.Clone()
	reduced.removeTermsStartingAt(c, 2)
	want := "START->a, START->ab, a->b, a->bc, ab->END, b->END, bc->END"
	if got := reduced.Describe(c); got != want {
		t.Errorf("after removing c: %s, want %s", got, want)
	}
	if g.Describe(c) != before {
		t.Errorf("Clone shares nodes with the original graph")
	}

	// the 2-gram starting at the first term survives the reduction
	if got := maximallyReduced(c, g).Describe(c); got != "START->a, START->ab, a->END, ab->END" {
		t.Errorf("maximallyReduced = %s", got)
	}
}

func TestResolveQueryGraph(t *testing.T) {
	snap := newSnapshot(t, index.Settings{SearchableFields: []string{"title"}},
		map[string]any{"id": "0", "title": "ice cream"},
		map[string]any{"id": "1", "title": "icecream"},
		map[string]any{"id": "2", "title": "ice"},
		map[string]any{"id": "3", "title": "cream"},
	)
	c := NewContext(snap, TypoSettings{})
	g, err := BuildQueryGraph(c, parser.Parse("ice cream "))
	if err != nil {
		t.Fatalf("BuildQueryGraph: %v", err)
	}
	got, err := c.resolveQueryGraph(g, roaring.BitmapOf(0, 1, 2, 3))
	if err != nil {
		t.Fatalf("resolveQueryGraph: %v", err)
	}
	if want := []uint32{0, 1}; !slices.Equal(got.ToArray(), want) {
		t.Errorf("resolveQueryGraph = %v, want %v", got.ToArray(), want)
	}

	got, err = c.resolveQueryGraph(g, roaring.BitmapOf(1, 2))
	if err != nil {
		t.Fatalf("resolveQueryGraph: %v", err)
	}
	if want := []uint32{1}; !slices.Equal(got.ToArray(), want) {
		t.Errorf("restricted resolveQueryGraph = %v, want %v", got.ToArray(), want)
	}
}

func TestQueryTermDerivations(t *testing.T) {
	snap := newSnapshot(t, index.Settings{SearchableFields: []string{"title"}},
		map[string]any{"id": "0", "title": "hello helps world wonderful wanderful wondrous"},
	)
	c := NewContext(snap, TypoSettings{})
	words := func(ws []Word) []string {
		out := make([]string, len(ws))
		for i, w := range ws {
			out[i] = c.Word(w)
		}
		slices.Sort(out)
		return out
	}

	hello, err := c.newWordTerm("hello", false, false, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	qt := c.Term(hello)
	if qt.MaxTypos != 1 || len(qt.OneTypo) != 0 {
		t.Errorf("hello: MaxTypos=%d OneTypo=%v", qt.MaxTypos, words(qt.OneTypo))
	}

	wonder, err := c.newWordTerm("wonderful", false, false, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	qt = c.Term(wonder)
	if qt.MaxTypos != 2 {
		t.Errorf("wonderful: MaxTypos = %d, want 2", qt.MaxTypos)
	}
	if got := words(qt.OneTypo); !slices.Equal(got, []string{"wanderful"}) {
		t.Errorf("wonderful: OneTypo = %v", got)
	}

	prefix, err := c.newWordTerm("wond", true, false, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	qt = c.Term(prefix)
	if !qt.UsePrefixDB || qt.MaxTypos != 0 {
		t.Errorf("wond: UsePrefixDB=%v MaxTypos=%d", qt.UsePrefixDB, qt.MaxTypos)
	}

	long, err := c.newWordTerm("wonde", true, false, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	qt = c.Term(long)
	if got := words(qt.PrefixOf); !slices.Equal(got, []string{"wonderful"}) {
		t.Errorf("wonde*: PrefixOf = %v", got)
	}
	if got := words(qt.OneTypo); !slices.Equal(got, []string{"wanderful", "wondrous"}) {
		t.Errorf("wonde*: OneTypo = %v", got)
	}

	ngram, err := c.newWordTerm("helloworld", false, true, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if qt := c.Term(ngram); qt.MaxTypos != 0 || qt.HasDerivations(1) {
		t.Errorf("ngram got typo derivations: %+v", qt)
	}
}
