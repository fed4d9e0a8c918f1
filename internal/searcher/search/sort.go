package search

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// Sort orders documents by the value of one field. Numbers come before
// strings in both directions, and documents without a comparable value form
// the last bucket.
type Sort struct {
	field     string
	ascending bool

	query   *QueryGraph
	buckets []*roaring.Bitmap
	next    int
	rest    *roaring.Bitmap
}

func NewSort(field string, ascending bool) *Sort {
	return &Sort{field: field, ascending: ascending}
}

func (s *Sort) ID() string {
	if s.ascending {
		return "sort:" + s.field + ":asc"
	}
	return "sort:" + s.field + ":desc"
}

func (s *Sort) StartIteration(c *Context, _ SearchLogger, universe *roaring.Bitmap, query *QueryGraph) error {
	s.query = query
	s.buckets = nil
	s.next = 0
	remaining := universe.Clone()

	collect := func(buf []byte) (bool, error) {
		docids, err := decode(buf, "facet-"+s.field)
		if err != nil {
			return false, err
		}
		docids.And(remaining)
		if !docids.IsEmpty() {
			remaining.AndNot(docids)
			s.buckets = append(s.buckets, docids)
		}
		return !remaining.IsEmpty(), nil
	}
	err := c.index.FacetNumbers(s.field, s.ascending, func(_ float64, buf []byte) (bool, error) {
		return collect(buf)
	})
	if err != nil {
		return err
	}
	if !remaining.IsEmpty() {
		err = c.index.FacetStrings(s.field, s.ascending, func(_ string, buf []byte) (bool, error) {
			return collect(buf)
		})
		if err != nil {
			return err
		}
	}
	s.rest = remaining
	return nil
}

func (s *Sort) NextBucket(_ *Context, _ SearchLogger, universe *roaring.Bitmap) (*Bucket, error) {
	for s.next < len(s.buckets) {
		b := roaring.And(s.buckets[s.next], universe)
		s.next++
		if !b.IsEmpty() {
			return &Bucket{Query: s.query, Candidates: b}, nil
		}
	}
	if s.rest != nil {
		b := roaring.And(s.rest, universe)
		s.rest = nil
		if !b.IsEmpty() {
			return &Bucket{Query: s.query, Candidates: b}, nil
		}
	}
	return nil, nil
}

func (s *Sort) EndIteration(*Context, SearchLogger) {
	s.query = nil
	s.buckets = nil
	s.rest = nil
}
