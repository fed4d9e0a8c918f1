package search

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/errors"
)

func geo(lat, lng float64) map[string]any {
	return map[string]any{"lat": lat, "lng": lng}
}

// newSnapshot indexes docs in order and returns an open snapshot.
func newSnapshot(t *testing.T, settings index.Settings, docs ...map[string]any) *index.Snapshot {
	t.Helper()
	idx, err := index.Open(filepath.Join(t.TempDir(), "index.db"), index.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	b, err := idx.NewBuilder(settings)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	for _, doc := range docs {
		if _, err := b.AddDocument(doc); err != nil {
			t.Fatalf("AddDocument(%v): %v", doc, err)
		}
	}
	if err := b.Commit(idx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	snap, err := idx.ReadTxn()
	if err != nil {
		t.Fatalf("ReadTxn: %v", err)
	}
	t.Cleanup(func() { snap.Close() })
	return snap
}

// run executes s and maps the page back to external ids.
func run(t *testing.T, snap *index.Snapshot, s *Search) []string {
	t.Helper()
	res, err := s.Execute(context.Background(), snap)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	ids := make([]string, 0, len(res.DocumentsIDs))
	for _, id := range res.DocumentsIDs {
		ext, ok, err := snap.ExternalID(id)
		if err != nil || !ok {
			t.Fatalf("ExternalID(%d) = %q, %v, %v", id, ext, ok, err)
		}
		ids = append(ids, ext)
	}
	return ids
}

var geoStrategies = []struct {
	name     string
	strategy GeoSortStrategy
}{
	{"iterative-2", AlwaysIterative(2)},
	{"iterative-1000", AlwaysIterative(1000)},
	{"rtree-2", AlwaysRtree(2)},
	{"rtree-1000", AlwaysRtree(1000)},
	{"rtree-100", AlwaysRtree(100)},
	{"rtree-3", AlwaysRtree(3)},
	{"iterative-100", AlwaysIterative(100)},
	{"iterative-3", AlwaysIterative(3)},
	{"dynamic-100", Dynamic(100)},
	{"dynamic-3", Dynamic(3)},
}

func geoSettings() index.Settings {
	return index.Settings{SearchableFields: []string{"name"}, SortableFields: []string{index.GeoField}}
}

// The documents are inserted out of order so that internal and external
// ids differ.
func mixedGeoSnapshot(t *testing.T) *index.Snapshot {
	return newSnapshot(t, geoSettings(),
		map[string]any{"id": "2", "_geo": geo(2, -1)},
		map[string]any{"id": "3", "_geo": geo(-2, -2)},
		map[string]any{"id": "5", "_geo": geo(6, -5)},
		map[string]any{"id": "4", "_geo": geo(3, 5)},
		map[string]any{"id": "0", "_geo": geo(0, 0)},
		map[string]any{"id": "1", "_geo": geo(1, 1)},
		map[string]any{"id": "6"},
		map[string]any{"id": "8"},
		map[string]any{"id": "7"},
		map[string]any{"id": "10"},
		map[string]any{"id": "9"},
	)
}

func TestGeoSortOrdersByDistance(t *testing.T) {
	snap := mixedGeoSnapshot(t)
	tests := []struct {
		ascending bool
		want      []string
	}{
		{true, []string{"0", "1", "2", "3", "4", "5", "6", "8", "7", "10", "9"}},
		{false, []string{"5", "4", "3", "2", "1", "0", "6", "8", "7", "10", "9"}},
	}
	for _, st := range geoStrategies {
		for _, tt := range tests {
			s := &Search{
				Query:       parser.Parse(""),
				Sort:        []SortCriterion{{Field: index.GeoField, Geo: true, Ascending: tt.ascending}},
				GeoStrategy: st.strategy,
				Limit:       20,
			}
			got := run(t, snap, s)
			if !slices.Equal(got, tt.want) {
				t.Errorf("%s asc=%v: got %v, want %v", st.name, tt.ascending, got, tt.want)
			}
		}
	}
}

func TestGeoSortPaginationIsStable(t *testing.T) {
	snap := mixedGeoSnapshot(t)
	for _, st := range geoStrategies {
		for _, ascending := range []bool{true, false} {
			sorted := []SortCriterion{{Field: index.GeoField, Geo: true, Ascending: ascending}}
			all := run(t, snap, &Search{Query: parser.Parse(""), Sort: sorted, GeoStrategy: st.strategy, Limit: 20})

			var paged []string
			for offset := 0; offset < len(all); offset += 3 {
				paged = append(paged, run(t, snap, &Search{
					Query: parser.Parse(""), Sort: sorted, GeoStrategy: st.strategy, Offset: offset, Limit: 3,
				})...)
			}
			if !slices.Equal(paged, all) {
				t.Errorf("%s asc=%v: pages %v, full %v", st.name, ascending, paged, all)
			}
		}
	}
}

// The points sit near the poles and on both sides of the antimeridian.
func flatEarthSnapshot(t *testing.T) *index.Snapshot {
	return newSnapshot(t, geoSettings(),
		map[string]any{"id": "0", "name": "jean", "_geo": geo(0, 0)},
		map[string]any{"id": "1", "name": "intel", "_geo": geo(88, 0)},
		map[string]any{"id": "2", "name": "jean bob", "_geo": geo(-89, 0)},
		map[string]any{"id": "3", "name": "jean", "_geo": geo(0, 178)},
		map[string]any{"id": "4", "name": "bob", "_geo": geo(0, -179)},
	)
}

func TestGeoSortAroundTheGlobe(t *testing.T) {
	snap := flatEarthSnapshot(t)
	tests := []struct {
		lat, lng  float64
		ascending bool
		want      []string
	}{
		{0, 0, true, []string{"0", "1", "2", "3", "4"}},
		{85, 0, true, []string{"1", "0", "3", "4", "2"}},
		{-85, 0, true, []string{"2", "0", "3", "4", "1"}},
		{0, 175, true, []string{"3", "4", "2", "1", "0"}},
		{0, -175, true, []string{"4", "3", "2", "1", "0"}},
		{0, 0, false, []string{"4", "3", "2", "1", "0"}},
		{85, 0, false, []string{"2", "4", "3", "0", "1"}},
		{-85, 0, false, []string{"1", "4", "3", "0", "2"}},
		{0, 175, false, []string{"0", "1", "2", "4", "3"}},
		{0, -175, false, []string{"0", "1", "2", "3", "4"}},
	}
	for _, st := range geoStrategies {
		for _, tt := range tests {
			s := &Search{
				Query:       parser.Parse(""),
				Sort:        []SortCriterion{{Field: index.GeoField, Geo: true, Lat: tt.lat, Lng: tt.lng, Ascending: tt.ascending}},
				GeoStrategy: st.strategy,
				Limit:       10,
			}
			got := run(t, snap, s)
			if !slices.Equal(got, tt.want) {
				t.Errorf("%s (%v,%v) asc=%v: got %v, want %v", st.name, tt.lat, tt.lng, tt.ascending, got, tt.want)
			}
		}
	}
}

func TestGeoSortAfterWords(t *testing.T) {
	snap := flatEarthSnapshot(t)
	tests := []struct {
		query string
		want  []string
	}{
		{"jean", []string{"0", "2", "3"}},
		{"bob", []string{"2", "4"}},
		{"intel", []string{"1"}},
	}
	for _, st := range geoStrategies {
		for _, tt := range tests {
			s := &Search{
				Query:       parser.Parse(tt.query),
				Sort:        []SortCriterion{{Field: index.GeoField, Geo: true, Ascending: true}},
				GeoStrategy: st.strategy,
				Limit:       10,
			}
			got := run(t, snap, s)
			if !slices.Equal(got, tt.want) {
				t.Errorf("%s %q: got %v, want %v", st.name, tt.query, got, tt.want)
			}
		}
	}
}

func TestGeoSortUsesRequestedStrategy(t *testing.T) {
	snap := mixedGeoSnapshot(t)
	c := NewContext(snap, TypoSettings{})
	universe, err := snap.DocumentsIDs()
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		strategy  GeoSortStrategy
		wantRtree bool
	}{
		{AlwaysIterative(2), false},
		{AlwaysRtree(2), true},
		{Dynamic(100), true},
		{Dynamic(3), false},
	}
	for _, tt := range tests {
		g := NewGeoSort(0, 0, true, tt.strategy)
		if err := g.StartIteration(c, NoopLogger{}, universe, nil); err != nil {
			t.Fatalf("%v: StartIteration: %v", tt.strategy, err)
		}
		if g.useRtree != tt.wantRtree {
			t.Errorf("%v: useRtree = %v, want %v", tt.strategy, g.useRtree, tt.wantRtree)
		}
		g.EndIteration(c, NoopLogger{})
	}
}

func TestSortPlacesMissingValuesLast(t *testing.T) {
	snap := newSnapshot(t, index.Settings{SearchableFields: []string{"name"}, SortableFields: []string{"price"}},
		map[string]any{"id": "a", "price": 10},
		map[string]any{"id": "b", "price": "abc"},
		map[string]any{"id": "c"},
		map[string]any{"id": "d", "price": 5},
		map[string]any{"id": "e", "price": nil},
		map[string]any{"id": "f", "price": "Zed"},
	)
	tests := []struct {
		ascending bool
		want      []string
	}{
		{true, []string{"d", "a", "b", "f", "c", "e"}},
		{false, []string{"a", "d", "f", "b", "c", "e"}},
	}
	for _, tt := range tests {
		got := run(t, snap, &Search{
			Query: parser.Parse(""),
			Sort:  []SortCriterion{{Field: "price", Ascending: tt.ascending}},
			Limit: 10,
		})
		if !slices.Equal(got, tt.want) {
			t.Errorf("asc=%v: got %v, want %v", tt.ascending, got, tt.want)
		}
	}
}

func TestSortOrdersBooleansAsStrings(t *testing.T) {
	snap := newSnapshot(t, index.Settings{SearchableFields: []string{"name"}, SortableFields: []string{"flag"}},
		map[string]any{"id": "a", "flag": true},
		map[string]any{"id": "b", "flag": false},
		map[string]any{"id": "c"},
		map[string]any{"id": "d", "flag": "maybe"},
	)
	tests := []struct {
		ascending bool
		want      []string
	}{
		{true, []string{"b", "d", "a", "c"}},
		{false, []string{"a", "d", "b", "c"}},
	}
	for _, tt := range tests {
		got := run(t, snap, &Search{
			Query: parser.Parse(""),
			Sort:  []SortCriterion{{Field: "flag", Ascending: tt.ascending}},
			Limit: 10,
		})
		if !slices.Equal(got, tt.want) {
			t.Errorf("asc=%v: got %v, want %v", tt.ascending, got, tt.want)
		}
	}
}

func TestWordsRuleDropsTermsFromTheEnd(t *testing.T) {
	snap := newSnapshot(t, index.Settings{SearchableFields: []string{"title"}, Criteria: []string{"words"}},
		map[string]any{"id": "0", "title": "red apple pie"},
		map[string]any{"id": "1", "title": "red car"},
		map[string]any{"id": "2", "title": "red apple"},
		map[string]any{"id": "3", "title": "green apple pie"},
	)
	res, err := (&Search{Query: parser.Parse("red apple pie "), Limit: 10}).Execute(context.Background(), snap)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if want := []uint32{0, 2, 1}; !slices.Equal(res.DocumentsIDs, want) {
		t.Errorf("DocumentsIDs = %v, want %v", res.DocumentsIDs, want)
	}
	if got := res.Candidates.GetCardinality(); got != 3 {
		t.Errorf("candidates = %d, want 3", got)
	}
}

func TestTypoRuleRanksExactMatchesFirst(t *testing.T) {
	snap := newSnapshot(t, index.Settings{SearchableFields: []string{"title"}, Criteria: []string{"words", "typo"}},
		map[string]any{"id": "0", "title": "quack duck"},
		map[string]any{"id": "1", "title": "quick fox"},
		map[string]any{"id": "2", "title": "quacks"},
	)
	got := run(t, snap, &Search{Query: parser.Parse("quick "), Limit: 10})
	if want := []string{"1", "0"}; !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestTypoToleratesTransposition(t *testing.T) {
	snap := newSnapshot(t, index.Settings{SearchableFields: []string{"title"}, Criteria: []string{"words", "typo"}},
		map[string]any{"id": "0", "title": "quick brown fox"},
		map[string]any{"id": "1", "title": "slow brown dog"},
	)
	got := run(t, snap, &Search{Query: parser.Parse("quikc brown "), Limit: 10})
	if want := []string{"0"}; !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestProximityRuleRanksCloseTermsFirst(t *testing.T) {
	snap := newSnapshot(t, index.Settings{SearchableFields: []string{"title"}, Criteria: []string{"words", "proximity"}},
		map[string]any{"id": "0", "title": "quick brown fox"},
		map[string]any{"id": "1", "title": "quick red lazy brown"},
		map[string]any{"id": "2", "title": "brown quick"},
		map[string]any{"id": "3", "title": "quick a b c d e f g h brown"},
	)
	got := run(t, snap, &Search{Query: parser.Parse("quick brown "), Limit: 10})
	if want := []string{"0", "2", "1", "3"}; !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPhraseMatchesConsecutiveWordsOnly(t *testing.T) {
	snap := newSnapshot(t, index.Settings{SearchableFields: []string{"title"}},
		map[string]any{"id": "0", "title": "new york city"},
		map[string]any{"id": "1", "title": "york is new"},
	)
	got := run(t, snap, &Search{Query: parser.Parse(`"new york"`), Limit: 10})
	if want := []string{"0"}; !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestExcludedWordsAndFilterShrinkTheUniverse(t *testing.T) {
	snap := newSnapshot(t, index.Settings{SearchableFields: []string{"title"}},
		map[string]any{"id": "0", "title": "go tutorial"},
		map[string]any{"id": "1", "title": "go tutorial beginner"},
		map[string]any{"id": "2", "title": "go reference"},
	)
	res, err := (&Search{Query: parser.Parse("go NOT beginner"), Limit: 10}).Execute(context.Background(), snap)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if want := []uint32{0, 2}; !slices.Equal(res.Candidates.ToArray(), want) {
		t.Errorf("candidates = %v, want %v", res.Candidates.ToArray(), want)
	}

	res, err = (&Search{Query: parser.Parse(""), Filter: roaring.BitmapOf(1, 2, 7), Limit: 10}).Execute(context.Background(), snap)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if want := []uint32{1, 2}; !slices.Equal(res.DocumentsIDs, want) {
		t.Errorf("filtered = %v, want %v", res.DocumentsIDs, want)
	}
}

func TestInvalidSortUsage(t *testing.T) {
	docs := []map[string]any{{"id": "0", "price": 3, "_geo": geo(1, 1)}}
	tests := []struct {
		name     string
		settings index.Settings
		sort     SortCriterion
	}{
		{
			"sort rule missing",
			index.Settings{Criteria: []string{"words", "typo"}, SortableFields: []string{"price"}},
			SortCriterion{Field: "price", Ascending: true},
		},
		{
			"field not sortable",
			index.Settings{SortableFields: []string{"rating"}},
			SortCriterion{Field: "price", Ascending: true},
		},
		{
			"geo not sortable",
			index.Settings{SortableFields: []string{"price"}},
			SortCriterion{Field: index.GeoField, Geo: true, Ascending: true},
		},
		{
			"point out of range",
			index.Settings{SortableFields: []string{index.GeoField}},
			SortCriterion{Field: index.GeoField, Geo: true, Lat: 91, Ascending: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := newSnapshot(t, tt.settings, docs...)
			_, err := (&Search{Query: parser.Parse(""), Sort: []SortCriterion{tt.sort}, Limit: 10}).Execute(context.Background(), snap)
			if !errors.Is(err, apperrors.ErrInvalidSortUsage) {
				t.Fatalf("err = %v, want ErrInvalidSortUsage", err)
			}
		})
	}
}

func TestParseSortCriterion(t *testing.T) {
	tests := []struct {
		raw     string
		want    SortCriterion
		wantErr bool
	}{
		{raw: "price:asc", want: SortCriterion{Field: "price", Ascending: true}},
		{raw: " price : DESC ", want: SortCriterion{Field: "price"}},
		{raw: "_geoPoint(48.85, 2.35):asc", want: SortCriterion{Field: index.GeoField, Geo: true, Lat: 48.85, Lng: 2.35, Ascending: true}},
		{raw: "_geoPoint(-1,-2):desc", want: SortCriterion{Field: index.GeoField, Geo: true, Lat: -1, Lng: -2}},
		{raw: "price", wantErr: true},
		{raw: "price:up", wantErr: true},
		{raw: "_geo:asc", wantErr: true},
		{raw: "_geoPoint(1):asc", wantErr: true},
		{raw: "_geoPoint(a,b):asc", wantErr: true},
		{raw: "_geoPoint(1,2:asc", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseSortCriterion(tt.raw)
		if tt.wantErr {
			if !errors.Is(err, apperrors.ErrInvalidSortUsage) {
				t.Errorf("ParseSortCriterion(%q) err = %v, want ErrInvalidSortUsage", tt.raw, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSortCriterion(%q): %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSortCriterion(%q) = %+v, want %+v", tt.raw, got, tt.want)
		}
	}
}

func TestCancelledSearch(t *testing.T) {
	snap := mixedGeoSnapshot(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Search{
		Query: parser.Parse(""),
		Sort:  []SortCriterion{{Field: index.GeoField, Geo: true, Ascending: true}},
		Limit: 10,
	}).Execute(ctx, snap)
	if !errors.Is(err, apperrors.ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want ErrCancelled wrapping context.Canceled", err)
	}
}

func TestNegativeWindowRejected(t *testing.T) {
	snap := mixedGeoSnapshot(t)
	_, err := (&Search{Query: parser.Parse(""), Offset: -1, Limit: 10}).Execute(context.Background(), snap)
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

// failingIndex fails every word pair lookup, which only the proximity rule
// reads.
type failingIndex struct {
	*index.Snapshot
	err error
}

func (f failingIndex) WordPairProximityDocids(uint8, string, string) ([]byte, error) {
	return nil, f.err
}

func TestStorageFailureMidPipeline(t *testing.T) {
	snap := newSnapshot(t, index.Settings{SearchableFields: []string{"title"}},
		map[string]any{"id": "0", "title": "quick brown fox"},
		map[string]any{"id": "1", "title": "quick red lazy brown"},
	)
	cause := errors.New("page checksum mismatch")
	rec := &RecordingLogger{}
	res, err := (&Search{
		Query:  parser.Parse("quick brown "),
		Limit:  10,
		Logger: rec,
	}).Execute(context.Background(), failingIndex{Snapshot: snap, err: cause})
	if res != nil {
		t.Errorf("res = %+v, want nil", res)
	}
	if !errors.Is(err, apperrors.ErrStorage) || !errors.Is(err, cause) {
		t.Fatalf("err = %v, want ErrStorage wrapping the cause", err)
	}
	if rec.Count("start") == 0 {
		t.Errorf("failure happened before ranking started: %+v", rec.Events)
	}
}

func TestSearchLoggerObservesPipeline(t *testing.T) {
	snap := newSnapshot(t, index.Settings{SearchableFields: []string{"title"}},
		map[string]any{"id": "0", "title": "quick brown fox"},
		map[string]any{"id": "1", "title": "quick red lazy brown"},
		map[string]any{"id": "2", "title": "slow brown dog"},
	)
	rec := &RecordingLogger{}
	counter := NewBucketCounter()
	res, err := (&Search{
		Query:  parser.Parse("quick brown "),
		Limit:  10,
		Logger: MultiLogger{rec, counter},
	}).Execute(context.Background(), snap)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if want := []uint32{0, 1}; !slices.Equal(res.DocumentsIDs, want) {
		t.Fatalf("DocumentsIDs = %v, want %v", res.DocumentsIDs, want)
	}
	for _, kind := range []string{"initial_query", "query_for_universe", "initial_universe", "ranking_rules"} {
		if n := rec.Count(kind); n != 1 {
			t.Errorf("%s recorded %d times, want 1", kind, n)
		}
	}
	if rec.Count("start") != rec.Count("end") {
		t.Errorf("start = %d, end = %d", rec.Count("start"), rec.Count("end"))
	}
	if rec.Count("words_state") == 0 || rec.Count("proximity_state") == 0 {
		t.Errorf("missing rule state events: %+v", rec.Events)
	}
	var added []uint32
	for _, e := range rec.Events {
		if e.Kind == "add_to_results" {
			added = append(added, e.IDs...)
		}
	}
	if !slices.Equal(added, res.DocumentsIDs) {
		t.Errorf("added = %v, want %v", added, res.DocumentsIDs)
	}
	if counter.Buckets["words"] == 0 {
		t.Errorf("bucket counts = %v", counter.Buckets)
	}
	if want := []string{"words", "typo", "proximity"}; !slices.Equal(res.Rules, want) {
		t.Errorf("rules = %v, want %v", res.Rules, want)
	}
}

func TestSlogLoggerRendersQueryGraphs(t *testing.T) {
	snap := newSnapshot(t, index.Settings{SearchableFields: []string{"title"}},
		map[string]any{"id": "0", "title": "quick brown fox"},
	)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	_, err := (&Search{
		Query:  parser.Parse("quick brown "),
		Limit:  10,
		Logger: MultiLogger{NewBucketCounter(), NewSlogLogger(logger)},
	}).Execute(context.Background(), snap)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"initial query", "query for universe", "words state", "START->quick", "brown->END"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestSkippedBucketsAreLogged(t *testing.T) {
	snap := mixedGeoSnapshot(t)
	rec := &RecordingLogger{}
	res, err := (&Search{
		Query:  parser.Parse(""),
		Sort:   []SortCriterion{{Field: index.GeoField, Geo: true, Ascending: true}},
		Offset: 7,
		Limit:  2,
		Logger: rec,
	}).Execute(context.Background(), snap)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.DocumentsIDs) != 2 {
		t.Fatalf("DocumentsIDs = %v", res.DocumentsIDs)
	}
	if n := rec.Count("skip_bucket"); n != 6 {
		t.Errorf("skip_bucket = %d, want 6", n)
	}
}
