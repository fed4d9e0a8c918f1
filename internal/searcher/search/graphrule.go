package search

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/interner"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/smallbitmap"
)

// GraphBasedRule is a ranking rule over a RankingRuleGraph. Its buckets are
// the cost levels of the graph, cheapest first: a bucket holds the
// documents of every path of that cost. Once all costs are exhausted, the
// rest of the universe forms a last bucket.
type GraphBasedRule[C comparable] struct {
	id    string
	kind  EdgeKind[C]
	state *graphRuleState[C]
}

type graphRuleState[C comparable] struct {
	graph      *RankingRuleGraph[C]
	query      *QueryGraph
	universe   *roaring.Bitmap
	distances  *interner.MappedInterner[QueryNode, []uint32]
	costs      []uint32
	next       int
	deadEnds   *DeadEndsCache[C]
	conditions *interner.MappedInterner[C, *roaring.Bitmap]
	// resolved counts condition lookups, paths counts resolved paths
	resolved int
	paths    int
	done     bool
}

func newGraphBasedRule[C comparable](id string, kind EdgeKind[C]) *GraphBasedRule[C] {
	return &GraphBasedRule[C]{id: id, kind: kind}
}

func (r *GraphBasedRule[C]) ID() string { return r.id }

func (r *GraphBasedRule[C]) StartIteration(c *Context, _ SearchLogger, universe *roaring.Bitmap, query *QueryGraph) error {
	graph, err := BuildRankingRuleGraph(c, r.kind, query)
	if err != nil {
		return err
	}
	distances := graph.AllDistances(c)
	r.state = &graphRuleState[C]{
		graph:      graph,
		query:      query,
		universe:   universe.Clone(),
		distances:  distances,
		costs:      distances.Get(query.Root),
		deadEnds:   NewDeadEndsCache[C](graph.Conditions.Len()),
		conditions: interner.NewMapped[C, *roaring.Bitmap](graph.Conditions.Len(), nil),
	}
	return nil
}

func (s *graphRuleState[C]) conditionDocids(c *Context, kind EdgeKind[C], cond interner.Interned[C]) (*roaring.Bitmap, error) {
	if bm := s.conditions.Get(cond); bm != nil {
		return bm, nil
	}
	s.resolved++
	bm, err := kind.ResolveCondition(c, s.graph.Conditions.Get(cond), s.universe)
	if err != nil {
		return nil, err
	}
	s.conditions.Set(cond, bm)
	return bm, nil
}

func (r *GraphBasedRule[C]) NextBucket(c *Context, logger SearchLogger, universe *roaring.Bitmap) (*Bucket, error) {
	s := r.state
	if s == nil || universe.IsEmpty() {
		return nil, nil
	}
	for s.next < len(s.costs) {
		cost := s.costs[s.next]
		s.next++

		bucket := roaring.New()
		paths := 0
		err := s.graph.VisitPathsOfCost(c, cost, s.distances, s.deadEnds, func(path []interner.Interned[C]) (bool, error) {
			paths++
			s.paths++
			docids := universe.Clone()
			prefix := smallbitmap.New[C](s.graph.Conditions.Len())
			for _, cond := range path {
				prefix.Insert(cond)
				condDocids, err := s.conditionDocids(c, r.kind, cond)
				if err != nil {
					return false, err
				}
				if condDocids.IsEmpty() {
					s.deadEnds.Forbid(smallbitmap.FromHandles(s.graph.Conditions.Len(), cond))
					return true, nil
				}
				docids.And(condDocids)
				if docids.IsEmpty() {
					s.deadEnds.Forbid(prefix)
					return true, nil
				}
			}
			bucket.Or(docids)
			return bucket.GetCardinality() < universe.GetCardinality(), nil
		})
		if err != nil {
			return nil, err
		}
		r.kind.LogState(logger, GraphState{
			Cost:       cost,
			Paths:      paths,
			DeadEnds:   s.deadEnds.Len(),
			Conditions: s.graph.Conditions.Len(),
			Universe:   universe.GetCardinality(),
			Bucket:     bucket.GetCardinality(),
		})
		if !bucket.IsEmpty() {
			return &Bucket{Query: s.query, Candidates: bucket}, nil
		}
	}
	if !s.done {
		s.done = true
		return &Bucket{Query: s.query, Candidates: universe.Clone()}, nil
	}
	return nil, nil
}

func (r *GraphBasedRule[C]) EndIteration(*Context, SearchLogger) {
	r.state = nil
}
