package search

import (
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/interner"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/smallbitmap"
)

// EdgeSpec describes one edge produced by an EdgeKind. An unconditional
// edge is followed by every document.
type EdgeSpec[C comparable] struct {
	Cost        uint32
	Condition   C
	Conditional bool
}

// Edge is an edge of a RankingRuleGraph.
type Edge[C comparable] struct {
	Source      Node
	Dest        Node
	Cost        uint32
	Condition   interner.Interned[C]
	Conditional bool
}

// EdgeKind is the criterion-specific part of a graph-based ranking rule:
// which edges connect two query nodes and which documents follow an edge.
type EdgeKind[C comparable] interface {
	Name() string
	// BuildEdges returns the edges from source to dest, cheapest first.
	BuildEdges(c *Context, query *QueryGraph, source, dest Node) ([]EdgeSpec[C], error)
	// ResolveCondition returns the documents of universe satisfying cond.
	ResolveCondition(c *Context, cond C, universe *roaring.Bitmap) (*roaring.Bitmap, error)
	LogState(logger SearchLogger, state GraphState)
}

// RankingRuleGraph overlays a query graph with the cost and condition edges
// of one criterion. A path from Root to End costs the sum of its edges, and
// its documents are the intersection of its conditions.
type RankingRuleGraph[C comparable] struct {
	Query      *QueryGraph
	Edges      []Edge[C]
	Conditions *interner.DedupInterner[C]
	outgoing   *interner.MappedInterner[QueryNode, []int]
}

// BuildRankingRuleGraph instantiates the edges of kind over query. Edges are
// created in node order, then successor order, then cost order, which fixes
// the order in which paths are later visited.
func BuildRankingRuleGraph[C comparable](c *Context, kind EdgeKind[C], query *QueryGraph) (*RankingRuleGraph[C], error) {
	g := &RankingRuleGraph[C]{
		Query:      query,
		Conditions: interner.NewDedup[C](),
		outgoing:   interner.NewMapped[QueryNode, []int](query.Nodes.Len(), nil),
	}
	for _, source := range query.topological(c) {
		for _, dest := range query.Nodes.Get(source).Successors.Handles() {
			specs, err := kind.BuildEdges(c, query, source, dest)
			if err != nil {
				return nil, err
			}
			for _, spec := range specs {
				e := Edge[C]{Source: source, Dest: dest, Cost: spec.Cost, Conditional: spec.Conditional}
				if spec.Conditional {
					e.Condition = g.Conditions.Insert(spec.Condition)
				}
				*g.outgoing.GetPtr(source) = append(g.outgoing.Get(source), len(g.Edges))
				g.Edges = append(g.Edges, e)
			}
		}
	}
	return g, nil
}

// AllDistances returns, for every node, the sorted distinct costs of the
// paths from that node to End.
func (g *RankingRuleGraph[C]) AllDistances(c *Context) *interner.MappedInterner[QueryNode, []uint32] {
	dist := interner.NewMapped[QueryNode, []uint32](g.Query.Nodes.Len(), nil)
	order := g.Query.topological(c)
	for i := len(order) - 1; i >= 0; i-- {
		h := order[i]
		if h == g.Query.End {
			dist.Set(h, []uint32{0})
			continue
		}
		var costs []uint32
		for _, ei := range g.outgoing.Get(h) {
			e := g.Edges[ei]
			for _, d := range dist.Get(e.Dest) {
				costs = append(costs, e.Cost+d)
			}
		}
		slices.Sort(costs)
		dist.Set(h, slices.Compact(costs))
	}
	return dist
}

// VisitPathsOfCost calls visit with the conditions of every Root to End path
// costing exactly cost, skipping any path that contains a dead end. A path
// is pruned as soon as its prefix is forbidden. visit returns false to stop.
func (g *RankingRuleGraph[C]) VisitPathsOfCost(
	c *Context,
	cost uint32,
	dist *interner.MappedInterner[QueryNode, []uint32],
	deadEnds *DeadEndsCache[C],
	visit func(path []interner.Interned[C]) (bool, error),
) error {
	capacity := g.Conditions.Len()
	var path []interner.Interned[C]
	used := smallbitmap.New[C](capacity)

	var walk func(node Node, remaining uint32) (bool, error)
	walk = func(node Node, remaining uint32) (bool, error) {
		if node == g.Query.End {
			if remaining != 0 {
				return true, nil
			}
			return visit(slices.Clone(path))
		}
		for _, ei := range g.outgoing.Get(node) {
			e := g.Edges[ei]
			if e.Cost > remaining {
				continue
			}
			rest := remaining - e.Cost
			if _, ok := slices.BinarySearch(dist.Get(e.Dest), rest); !ok {
				continue
			}
			added := false
			if e.Conditional && !used.Contains(e.Condition) {
				used.Insert(e.Condition)
				if deadEnds.IsForbidden(used) {
					used.Remove(e.Condition)
					continue
				}
				path = append(path, e.Condition)
				added = true
			}
			more, err := walk(e.Dest, rest)
			if added {
				path = path[:len(path)-1]
				used.Remove(e.Condition)
			}
			if err != nil || !more {
				return more, err
			}
		}
		return true, nil
	}
	_, err := walk(g.Query.Root, cost)
	return err
}
