package search

import (
	"math"
	"slices"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/searcher/parser"
)

func TestDistance(t *testing.T) {
	oneDegree := earthRadius * math.Pi / 180
	tests := []struct {
		name                   string
		lat1, lng1, lat2, lng2 float64
		want                   float64
	}{
		{"same point", 48.85, 2.35, 48.85, 2.35, 0},
		{"one degree of longitude at the equator", 0, 0, 0, 1, oneDegree},
		{"across the antimeridian", 0, 179, 0, -179, 2 * oneDegree},
		{"pole to pole", 90, 0, -90, 0, 180 * oneDegree},
	}
	for _, tt := range tests {
		got := distance(tt.lat1, tt.lng1, tt.lat2, tt.lng2)
		if math.Abs(got-tt.want) > 1e-3 {
			t.Errorf("%s: distance = %f, want %f", tt.name, got, tt.want)
		}
	}
}

func TestAntipode(t *testing.T) {
	tests := []struct{ lat, lng, wantLat, wantLng float64 }{
		{10, 20, -10, -160},
		{0, -170, 0, 10},
		{-45, 180, 45, 0},
	}
	for _, tt := range tests {
		lat, lng := antipode(tt.lat, tt.lng)
		if lat != tt.wantLat || lng != tt.wantLng {
			t.Errorf("antipode(%v, %v) = (%v, %v), want (%v, %v)", tt.lat, tt.lng, lat, lng, tt.wantLat, tt.wantLng)
		}
	}
}

func TestUnitSpherePreservesOrder(t *testing.T) {
	ref := unitSphere(10, 10)
	euclid := func(lat, lng float64) float64 {
		p := unitSphere(lat, lng)
		var d float64
		for i := range p {
			d += (p[i] - ref[i]) * (p[i] - ref[i])
		}
		return d
	}
	points := [][2]float64{{10, 11}, {12, 10}, {-30, 50}, {80, -170}, {-10, -170}}
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		if (distance(10, 10, a[0], a[1]) < distance(10, 10, b[0], b[1])) != (euclid(a[0], a[1]) < euclid(b[0], b[1])) {
			t.Errorf("order of %v and %v differs on the unit sphere", a, b)
		}
	}
}

func TestParseGeoSortStrategy(t *testing.T) {
	tests := []struct {
		kind    string
		value   int
		want    GeoSortStrategy
		wantErr bool
	}{
		{kind: "", value: 1000, want: Dynamic(1000)},
		{kind: "dynamic", value: 50, want: Dynamic(50)},
		{kind: "Iterative", value: 3, want: AlwaysIterative(3)},
		{kind: "rtree", value: 2, want: AlwaysRtree(2)},
		{kind: "rtree", value: 0, wantErr: true},
		{kind: "kdtree", value: 10, wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseGeoSortStrategy(tt.kind, tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseGeoSortStrategy(%q, %d) err = %v", tt.kind, tt.value, err)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseGeoSortStrategy(%q, %d) = %v, want %v", tt.kind, tt.value, got, tt.want)
		}
	}
	if s := AlwaysRtree(7).String(); s != "rtree(7)" {
		t.Errorf("String() = %q", s)
	}
}

func TestGeoSortBreaksTiesByDocid(t *testing.T) {
	// the first four points are exactly one degree away from the origin
	snap := newSnapshot(t, geoSettings(),
		map[string]any{"id": "n", "_geo": geo(1, 0)},
		map[string]any{"id": "e", "_geo": geo(0, 1)},
		map[string]any{"id": "s", "_geo": geo(-1, 0)},
		map[string]any{"id": "w", "_geo": geo(0, -1)},
		map[string]any{"id": "far", "_geo": geo(10, 10)},
	)
	tests := []struct {
		ascending bool
		want      []string
	}{
		{true, []string{"n", "e", "s", "w", "far"}},
		{false, []string{"far", "n", "e", "s", "w"}},
	}
	for _, st := range geoStrategies {
		for _, tt := range tests {
			got := run(t, snap, &Search{
				Query:       parser.Parse(""),
				Sort:        []SortCriterion{{Field: index.GeoField, Geo: true, Ascending: tt.ascending}},
				GeoStrategy: st.strategy,
				Limit:       10,
			})
			if !slices.Equal(got, tt.want) {
				t.Errorf("%s asc=%v: got %v, want %v", st.name, tt.ascending, got, tt.want)
			}
		}
	}
}
