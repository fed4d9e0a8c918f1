package search

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// Bucket is a set of documents tied for one ranking rule, together with the
// query the next rule should use to split it further.
type Bucket struct {
	Query      *QueryGraph
	Candidates *roaring.Bitmap
}

// RankingRule splits a universe into ordered buckets.
//
// The driver calls StartIteration once with the universe to sort, then
// NextBucket until it returns nil or the driver has enough documents, then
// EndIteration. The universe passed to NextBucket is the part of the
// iteration universe not yet returned in a bucket; it only ever shrinks
// during one iteration.
type RankingRule interface {
	ID() string
	StartIteration(c *Context, logger SearchLogger, universe *roaring.Bitmap, query *QueryGraph) error
	NextBucket(c *Context, logger SearchLogger, universe *roaring.Bitmap) (*Bucket, error)
	EndIteration(c *Context, logger SearchLogger)
}
