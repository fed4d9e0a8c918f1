package search

import (
	"cmp"
	"math"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/dhconnelly/rtreego"
)

// tieEpsilon is the distance, in meters, under which two documents are
// considered equally far from the reference point.
const tieEpsilon = 1e-6

// GeoSort orders documents by their distance to a reference point. Every
// bucket holds a single document; equally distant documents are ordered by
// id. Documents without a _geo point come last, in one bucket.
type GeoSort struct {
	lat, lng  float64
	ascending bool
	strategy  GeoSortStrategy

	query   *QueryGraph
	geoDocs *roaring.Bitmap
	points  map[uint32][2]float64
	queue   []uint32

	useRtree bool
	tree     *rtreego.Rtree
	entries  map[uint32]*geoEntry
}

type geoEntry struct {
	docid uint32
	point rtreego.Point
}

func (e *geoEntry) Bounds() rtreego.Rect {
	return e.point.ToRect(1e-12)
}

type docDistance struct {
	docid    uint32
	distance float64
}

func NewGeoSort(lat, lng float64, ascending bool, strategy GeoSortStrategy) *GeoSort {
	return &GeoSort{lat: lat, lng: lng, ascending: ascending, strategy: strategy}
}

func (g *GeoSort) ID() string {
	if g.ascending {
		return "geo_sort:asc"
	}
	return "geo_sort:desc"
}

func (g *GeoSort) StartIteration(c *Context, _ SearchLogger, universe *roaring.Bitmap, query *QueryGraph) error {
	geo, err := c.index.GeoFacetedDocumentsIDs()
	if err != nil {
		return err
	}
	geo.And(universe)

	g.query = query
	g.geoDocs = geo
	g.queue = nil
	g.points = make(map[uint32][2]float64, geo.GetCardinality())
	it := geo.Iterator()
	for it.HasNext() {
		id := it.Next()
		lat, lng, ok, err := c.index.GeoPoint(id)
		if err != nil {
			return err
		}
		if !ok {
			geo.Remove(id)
			continue
		}
		g.points[id] = [2]float64{lat, lng}
	}

	g.useRtree = g.strategy.useRtree(geo.GetCardinality())
	g.tree, g.entries = nil, nil
	if g.useRtree {
		g.tree = rtreego.NewTree(3, 25, 50)
		g.entries = make(map[uint32]*geoEntry, len(g.points))
		for id, p := range g.points {
			e := &geoEntry{docid: id, point: unitSphere(p[0], p[1])}
			g.entries[id] = e
			g.tree.Insert(e)
		}
	}
	return nil
}

func (g *GeoSort) NextBucket(_ *Context, _ SearchLogger, universe *roaring.Bitmap) (*Bucket, error) {
	for {
		for len(g.queue) > 0 {
			id := g.queue[0]
			g.queue = g.queue[1:]
			if universe.Contains(id) {
				return &Bucket{Query: g.query, Candidates: roaring.BitmapOf(id)}, nil
			}
		}
		remaining := roaring.And(universe, g.geoDocs)
		if remaining.IsEmpty() {
			if universe.IsEmpty() {
				return nil, nil
			}
			return &Bucket{Query: g.query, Candidates: universe.Clone()}, nil
		}
		if g.useRtree {
			g.fillFromRtree(remaining)
		} else {
			g.fillIteratively(remaining)
		}
	}
}

func (g *GeoSort) EndIteration(*Context, SearchLogger) {
	g.query = nil
	g.queue = nil
	g.points = nil
	g.tree = nil
	g.entries = nil
}

func (g *GeoSort) sortByDistance(ds []docDistance) {
	slices.SortFunc(ds, func(a, b docDistance) int {
		if a.distance != b.distance {
			if g.ascending == (a.distance < b.distance) {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.docid, b.docid)
	})
}

func (g *GeoSort) fillIteratively(remaining *roaring.Bitmap) {
	ds := make([]docDistance, 0, remaining.GetCardinality())
	it := remaining.Iterator()
	for it.HasNext() {
		id := it.Next()
		p := g.points[id]
		ds = append(ds, docDistance{docid: id, distance: distance(g.lat, g.lng, p[0], p[1])})
	}
	g.sortByDistance(ds)
	n := min(g.strategy.cacheSize(), len(ds))
	for _, d := range ds[:n] {
		g.queue = append(g.queue, d.docid)
	}
}

// fillFromRtree queues the next closest (or farthest) documents. Because
// the R-tree may cut a group of equally distant documents, the group at the
// boundary is left in the tree for the next fill unless it is all there is.
func (g *GeoSort) fillFromRtree(remaining *roaring.Bitmap) {
	target := unitSphere(g.lat, g.lng)
	if !g.ascending {
		target = unitSphere(antipode(g.lat, g.lng))
	}
	k := g.strategy.cacheSize()
	for {
		size := g.tree.Size()
		if size == 0 {
			// every point was consumed, fall back to the remaining ids
			g.fillIteratively(remaining)
			return
		}
		k = min(k, size)
		var ds []docDistance
		for _, s := range g.tree.NearestNeighbors(k, target) {
			e, ok := s.(*geoEntry)
			if !ok || e == nil {
				continue
			}
			p := g.points[e.docid]
			ds = append(ds, docDistance{docid: e.docid, distance: distance(g.lat, g.lng, p[0], p[1])})
		}
		g.sortByDistance(ds)
		if k < size && len(ds) > 0 {
			boundary := ds[len(ds)-1].distance
			cut := len(ds)
			for cut > 0 && math.Abs(ds[cut-1].distance-boundary) <= tieEpsilon {
				cut--
			}
			if cut == 0 {
				k *= 2
				continue
			}
			ds = ds[:cut]
		}
		for _, d := range ds {
			g.queue = append(g.queue, d.docid)
			g.tree.Delete(g.entries[d.docid])
			delete(g.entries, d.docid)
		}
		return
	}
}
