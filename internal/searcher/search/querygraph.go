package search

import (
	"fmt"
	"slices"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/interner"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/smallbitmap"
)

type QueryNodeKind uint8

const (
	NodeStart QueryNodeKind = iota
	NodeEnd
	NodeTerm
	NodeDeleted
)

// QueryNode is a vertex of the query graph.
type QueryNode struct {
	Kind         QueryNodeKind
	Term         Term
	Predecessors smallbitmap.SmallBitmap[QueryNode]
	Successors   smallbitmap.SmallBitmap[QueryNode]
}

// Node is an interned QueryNode.
type Node = interner.Interned[QueryNode]

// QueryGraph is a DAG of term alternatives. Every path from Root to End is
// one way of reading the query: a node per word, or a 2-gram node in place
// of two adjacent words.
type QueryGraph struct {
	Root  Node
	End   Node
	Nodes *interner.FixedSizeInterner[QueryNode]
}

// BuildQueryGraph derives the query graph of plan. It returns nil for a
// placeholder query.
func BuildQueryGraph(c *Context, plan *parser.QueryPlan) (*QueryGraph, error) {
	if plan.IsPlaceholder() {
		return nil, nil
	}
	n := len(plan.Terms)
	var terms []Term
	for i, pt := range plan.Terms {
		if pt.IsPhrase() {
			terms = append(terms, c.newPhraseTerm(pt.Words, i, i))
			continue
		}
		isPrefix := plan.PrefixLast && i == n-1
		t, err := c.newWordTerm(pt.Words[0], isPrefix, false, i, i)
		if err != nil {
			return nil, fmt.Errorf("deriving term %q: %w", pt.Words[0], err)
		}
		terms = append(terms, t)
	}
	for i := 0; i+1 < n; i++ {
		left, right := plan.Terms[i], plan.Terms[i+1]
		if left.IsPhrase() || right.IsPhrase() {
			continue
		}
		isPrefix := plan.PrefixLast && i+1 == n-1
		t, err := c.newWordTerm(left.Words[0]+right.Words[0], isPrefix, true, i, i+1)
		if err != nil {
			return nil, fmt.Errorf("deriving 2-gram: %w", err)
		}
		terms = append(terms, t)
	}

	capacity := len(terms) + 2
	newNode := func(kind QueryNodeKind, t Term) QueryNode {
		return QueryNode{
			Kind:         kind,
			Term:         t,
			Predecessors: smallbitmap.New[QueryNode](capacity),
			Successors:   smallbitmap.New[QueryNode](capacity),
		}
	}
	g := &QueryGraph{Nodes: interner.NewFixed[QueryNode]()}
	g.Root = g.Nodes.Push(newNode(NodeStart, Term{}))
	g.End = g.Nodes.Push(newNode(NodeEnd, Term{}))
	nodes := make([]Node, len(terms))
	for i, t := range terms {
		nodes[i] = g.Nodes.Push(newNode(NodeTerm, t))
	}

	for i, from := range nodes {
		ft := c.Term(terms[i])
		if ft.Start == 0 {
			g.addEdge(g.Root, from)
		}
		if ft.End == n-1 {
			g.addEdge(from, g.End)
		}
		for j, to := range nodes {
			if c.Term(terms[j]).Start == ft.End+1 {
				g.addEdge(from, to)
			}
		}
	}
	return g, nil
}

func (g *QueryGraph) addEdge(from, to Node) {
	g.Nodes.GetPtr(from).Successors.Insert(to)
	g.Nodes.GetPtr(to).Predecessors.Insert(from)
}

// Clone returns a deep copy of the graph.
func (g *QueryGraph) Clone() *QueryGraph {
	nodes := g.Nodes.Clone()
	for _, h := range nodes.Handles() {
		n := nodes.GetPtr(h)
		n.Predecessors = n.Predecessors.Clone()
		n.Successors = n.Successors.Clone()
	}
	return &QueryGraph{Root: g.Root, End: g.End, Nodes: nodes}
}

// removeNodesKeepEdges deletes nodes, linking each of their predecessors
// to each of their successors.
func (g *QueryGraph) removeNodesKeepEdges(nodes []Node) {
	for _, h := range nodes {
		n := g.Nodes.GetPtr(h)
		for _, p := range n.Predecessors.Handles() {
			pred := g.Nodes.GetPtr(p)
			pred.Successors.Remove(h)
			pred.Successors.Union(n.Successors)
		}
		for _, s := range n.Successors.Handles() {
			succ := g.Nodes.GetPtr(s)
			succ.Predecessors.Remove(h)
			succ.Predecessors.Union(n.Predecessors)
		}
		n.Kind = NodeDeleted
		n.Predecessors.Clear()
		n.Successors.Clear()
	}
}

// removeTermsStartingAt deletes every node whose term starts at the given
// parsed-term index.
func (g *QueryGraph) removeTermsStartingAt(c *Context, start int) {
	var remove []Node
	for _, h := range g.Nodes.Handles() {
		n := g.Nodes.Get(h)
		if n.Kind == NodeTerm && c.Term(n.Term).Start == start {
			remove = append(remove, h)
		}
	}
	g.removeNodesKeepEdges(remove)
}

// termStarts returns the distinct start indexes of the live term nodes, in
// increasing order.
func (g *QueryGraph) termStarts(c *Context) []int {
	var starts []int
	for _, h := range g.Nodes.Handles() {
		n := g.Nodes.Get(h)
		if n.Kind != NodeTerm {
			continue
		}
		s := c.Term(n.Term).Start
		if !slices.Contains(starts, s) {
			starts = append(starts, s)
		}
	}
	slices.Sort(starts)
	return starts
}

// topological returns the live nodes so that every node comes after all of
// its predecessors.
func (g *QueryGraph) topological(c *Context) []Node {
	var out []Node
	for _, h := range g.Nodes.Handles() {
		if g.Nodes.Get(h).Kind != NodeDeleted {
			out = append(out, h)
		}
	}
	rank := func(h Node) [3]int {
		n := g.Nodes.Get(h)
		switch n.Kind {
		case NodeStart:
			return [3]int{0, 0, h.Index()}
		case NodeEnd:
			return [3]int{2, 0, h.Index()}
		}
		return [3]int{1, c.Term(n.Term).Start, h.Index()}
	}
	slices.SortFunc(out, func(a, b Node) int {
		ra, rb := rank(a), rank(b)
		for i := range ra {
			if ra[i] != rb[i] {
				return ra[i] - rb[i]
			}
		}
		return 0
	})
	return out
}

// Describe renders the graph edges for logs.
func (g *QueryGraph) Describe(c *Context) string {
	if g == nil {
		return "<placeholder>"
	}
	var b strings.Builder
	label := func(h Node) string {
		n := g.Nodes.Get(h)
		switch n.Kind {
		case NodeStart:
			return "START"
		case NodeEnd:
			return "END"
		}
		return c.describe(n.Term)
	}
	for _, h := range g.topological(c) {
		for _, s := range g.Nodes.Get(h).Successors.Handles() {
			if b.Len() > 0 {
				b.WriteString(", ")
			}
			b.WriteString(label(h) + "->" + label(s))
		}
	}
	return b.String()
}

// resolveQueryGraph returns the documents of universe matching at least one
// path of the graph, each term matched with any of its derivations.
func (c *Context) resolveQueryGraph(g *QueryGraph, universe *roaring.Bitmap) (*roaring.Bitmap, error) {
	docids := interner.NewMapped[QueryNode, *roaring.Bitmap](g.Nodes.Len(), nil)
	docids.Set(g.Root, universe)
	for _, h := range g.topological(c) {
		n := g.Nodes.Get(h)
		if n.Kind == NodeStart {
			continue
		}
		reached := roaring.New()
		for _, p := range n.Predecessors.Handles() {
			if d := docids.Get(p); d != nil {
				reached.Or(d)
			}
		}
		if n.Kind == NodeEnd {
			return reached, nil
		}
		if reached.IsEmpty() {
			docids.Set(h, reached)
			continue
		}
		termDocs, err := c.termDocids(n.Term, derivationsAll)
		if err != nil {
			return nil, err
		}
		reached.And(termDocs)
		docids.Set(h, reached)
	}
	return roaring.New(), nil
}
