package search

import (
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
)

// Words ranks documents by how many query terms they match. Its first
// bucket holds the documents matching every term; each following bucket
// drops the last remaining term.
type Words struct {
	graph     *QueryGraph
	toRemove  []int
	exhausted bool
}

func NewWords() *Words {
	return &Words{}
}

func (w *Words) ID() string { return "words" }

func (w *Words) StartIteration(c *Context, _ SearchLogger, _ *roaring.Bitmap, query *QueryGraph) error {
	w.graph = query.Clone()
	starts := query.termStarts(c)
	w.toRemove = nil
	if len(starts) > 1 {
		w.toRemove = slices.Clone(starts[1:])
		slices.Reverse(w.toRemove)
	}
	w.exhausted = false
	return nil
}

func (w *Words) NextBucket(c *Context, logger SearchLogger, universe *roaring.Bitmap) (*Bucket, error) {
	if w.graph == nil || w.exhausted {
		return nil, nil
	}
	logger.LogWordsState(w.graph)
	candidates, err := c.resolveQueryGraph(w.graph, universe)
	if err != nil {
		return nil, err
	}
	child := w.graph.Clone()
	if len(w.toRemove) == 0 {
		w.exhausted = true
	} else {
		w.graph.removeTermsStartingAt(c, w.toRemove[0])
		w.toRemove = w.toRemove[1:]
	}
	return &Bucket{Query: child, Candidates: candidates}, nil
}

func (w *Words) EndIteration(*Context, SearchLogger) {
	w.graph = nil
	w.toRemove = nil
}

// maximallyReduced returns query with every term but the first removed,
// the widest reading the words rule can reach.
func maximallyReduced(c *Context, query *QueryGraph) *QueryGraph {
	g := query.Clone()
	starts := g.termStarts(c)
	for i := len(starts) - 1; i > 0; i-- {
		g.removeTermsStartingAt(c, starts[i])
	}
	return g
}
