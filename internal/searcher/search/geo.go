package search

import (
	"fmt"
	"math"
	"strings"

	"github.com/dhconnelly/rtreego"
)

// earthRadius is the mean Earth radius in meters.
const earthRadius = 6371008.8

// distance returns the great-circle distance in meters between two points
// given in degrees. Longitudes wrap around the antimeridian.
func distance(lat1, lng1, lat2, lng2 float64) float64 {
	rlat1, rlat2 := radians(lat1), radians(lat2)
	dlat := rlat2 - rlat1
	dlng := radians(lng2 - lng1)
	a := math.Sin(dlat/2)*math.Sin(dlat/2) + math.Cos(rlat1)*math.Cos(rlat2)*math.Sin(dlng/2)*math.Sin(dlng/2)
	return 2 * earthRadius * math.Asin(math.Sqrt(min(a, 1)))
}

// unitSphere maps a coordinate to a point of the unit sphere. Euclidean
// distance between such points grows with the great-circle distance, so a
// 3-D R-tree can answer nearest-neighbor queries on the sphere.
func unitSphere(lat, lng float64) rtreego.Point {
	rlat, rlng := radians(lat), radians(lng)
	return rtreego.Point{math.Cos(rlat) * math.Cos(rlng), math.Cos(rlat) * math.Sin(rlng), math.Sin(rlat)}
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// antipode returns the point on the opposite side of the globe.
func antipode(lat, lng float64) (float64, float64) {
	lng += 180
	if lng > 180 {
		lng -= 360
	}
	return -lat, lng
}

func validGeoPoint(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180 &&
		!math.IsNaN(lat) && !math.IsNaN(lng)
}

type geoStrategyKind uint8

const (
	geoDynamic geoStrategyKind = iota
	geoIterative
	geoRtree
)

// GeoSortStrategy selects how the geo-sort rule finds the next closest
// documents.
type GeoSortStrategy struct {
	kind  geoStrategyKind
	value int
}

// Dynamic uses an R-tree when fewer than threshold documents are geo
// candidates, and scans in chunks of threshold documents otherwise.
func Dynamic(threshold int) GeoSortStrategy {
	return GeoSortStrategy{kind: geoDynamic, value: threshold}
}

// AlwaysIterative computes every distance and keeps the chunk closest
// documents in a queue.
func AlwaysIterative(chunk int) GeoSortStrategy {
	return GeoSortStrategy{kind: geoIterative, value: chunk}
}

// AlwaysRtree indexes the candidates in an R-tree and fetches at least
// minSize neighbors at a time.
func AlwaysRtree(minSize int) GeoSortStrategy {
	return GeoSortStrategy{kind: geoRtree, value: minSize}
}

// DefaultGeoSortStrategy is Dynamic(1000).
var DefaultGeoSortStrategy = Dynamic(1000)

// ParseGeoSortStrategy builds a strategy from its configuration name
// (dynamic, iterative or rtree) and value.
func ParseGeoSortStrategy(kind string, value int) (GeoSortStrategy, error) {
	if value <= 0 {
		return GeoSortStrategy{}, fmt.Errorf("geo sort strategy value must be positive, got %d", value)
	}
	switch strings.ToLower(kind) {
	case "", "dynamic":
		return Dynamic(value), nil
	case "iterative":
		return AlwaysIterative(value), nil
	case "rtree":
		return AlwaysRtree(value), nil
	}
	return GeoSortStrategy{}, fmt.Errorf("unknown geo sort strategy %q", kind)
}

func (s GeoSortStrategy) useRtree(candidates uint64) bool {
	switch s.kind {
	case geoIterative:
		return false
	case geoRtree:
		return true
	}
	return candidates < uint64(s.value)
}

func (s GeoSortStrategy) cacheSize() int {
	return max(s.value, 1)
}

func (s GeoSortStrategy) String() string {
	switch s.kind {
	case geoIterative:
		return fmt.Sprintf("iterative(%d)", s.value)
	case geoRtree:
		return fmt.Sprintf("rtree(%d)", s.value)
	}
	return fmt.Sprintf("dynamic(%d)", s.value)
}
