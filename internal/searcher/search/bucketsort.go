package search

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	apperrors "github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/errors"
)

// BucketSortOutput is the page produced by bucketSort.
type BucketSortOutput struct {
	DocIDs     []uint32
	Candidates *roaring.Bitmap
}

// bucketSort pulls buckets depth first through rules until from+length
// documents have been ordered, and returns the documents in [from,
// from+length). Each rule sorts the buckets of the rule before it; a bucket
// that cannot change the page (it holds at most one document, it lies
// entirely before from, or no rule is left) is appended as is.
func bucketSort(
	ctx context.Context,
	c *Context,
	rules []RankingRule,
	query *QueryGraph,
	universe *roaring.Bitmap,
	from, length int,
	logger SearchLogger,
) (*BucketSortOutput, error) {
	logger.InitialQuery(query)
	logger.RankingRules(rules)
	logger.InitialUniverse(universe)

	out := &BucketSortOutput{Candidates: universe.Clone()}
	if universe.IsEmpty() || length <= 0 || uint64(from) >= universe.GetCardinality() {
		return out, nil
	}
	if len(rules) == 0 {
		out.DocIDs = window(universe, from, length)
		return out, nil
	}

	universes := make([]*roaring.Bitmap, len(rules))
	cur := 0
	universes[0] = universe.Clone()
	logger.StartIterationRankingRule(0, rules[0], query, universes[0])
	if err := rules[0].StartIteration(c, logger, universes[0], query); err != nil {
		return nil, fmt.Errorf("starting %s: %w", rules[0].ID(), err)
	}

	results := make([]uint32, 0, length)
	offset := 0

	addToResults := func(candidates *roaring.Bitmap) {
		n := int(candidates.GetCardinality())
		defer func() { offset += n }()
		if n == 0 {
			return
		}
		if offset+n <= from {
			logger.SkipBucketRankingRule(cur, rules[cur], candidates)
			return
		}
		skip := max(from-offset, 0)
		added := window(candidates, skip, length-len(results))
		logger.AddToResults(added)
		results = append(results, added...)
	}

	// back ends the iteration of the current rule and returns false once
	// the first rule is exhausted.
	active := true
	back := func() bool {
		rules[cur].EndIteration(c, logger)
		logger.EndIterationRankingRule(cur, rules[cur], universes[cur])
		universes[cur].Clear()
		if cur == 0 {
			active = false
			return false
		}
		cur--
		return true
	}

	for len(results) < length {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrCancelled, err)
		}

		if universes[cur].GetCardinality() <= 1 {
			addToResults(universes[cur])
			if !back() {
				break
			}
			continue
		}

		bucket, err := rules[cur].NextBucket(c, logger, universes[cur])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rules[cur].ID(), err)
		}
		if bucket == nil {
			if !back() {
				break
			}
			continue
		}
		bucket.Candidates.And(universes[cur])
		logger.NextBucketRankingRule(cur, rules[cur], universes[cur], bucket.Candidates)
		universes[cur].AndNot(bucket.Candidates)

		n := int(bucket.Candidates.GetCardinality())
		if cur == len(rules)-1 || n <= 1 || offset+n <= from {
			addToResults(bucket.Candidates)
			continue
		}

		cur++
		universes[cur] = bucket.Candidates
		logger.StartIterationRankingRule(cur, rules[cur], bucket.Query, universes[cur])
		if err := rules[cur].StartIteration(c, logger, universes[cur], bucket.Query); err != nil {
			return nil, fmt.Errorf("starting %s: %w", rules[cur].ID(), err)
		}
	}

	// the page filled up before the rules were exhausted
	for active && back() {
	}

	out.DocIDs = results
	return out, nil
}

// window returns at most length ids of bm, skipping the first skip.
func window(bm *roaring.Bitmap, skip, length int) []uint32 {
	ids := make([]uint32, 0, min(length, int(bm.GetCardinality())))
	it := bm.Iterator()
	for i := 0; it.HasNext() && len(ids) < length; i++ {
		id := it.Next()
		if i >= skip {
			ids = append(ids, id)
		}
	}
	return ids
}
