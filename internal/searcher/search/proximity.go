package search

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/indexer/index"
)

// ProximityCondition selects the documents where the words of Left and
// Right are Proximity positions apart. A zero Proximity selects the
// documents matching Right alone: it guards the edges leaving the start node
// and the edge for terms further apart than MaxProximity.
type ProximityCondition struct {
	Left, Right Term
	Proximity   uint8
}

type proximityKind struct{}

// NewProximity returns the proximity ranking rule. Adjacent terms cost
// proximity-1 when they appear within MaxProximity positions of each other
// and MaxProximity otherwise, so documents where the query terms are close
// come first.
func NewProximity() *GraphBasedRule[ProximityCondition] {
	return newGraphBasedRule[ProximityCondition]("proximity", proximityKind{})
}

func (proximityKind) Name() string { return "proximity" }

func (proximityKind) BuildEdges(c *Context, query *QueryGraph, source, dest Node) ([]EdgeSpec[ProximityCondition], error) {
	from, to := query.Nodes.Get(source), query.Nodes.Get(dest)
	switch {
	case to.Kind != NodeTerm:
		return []EdgeSpec[ProximityCondition]{{Cost: 0}}, nil
	case from.Kind != NodeTerm:
		return []EdgeSpec[ProximityCondition]{{
			Cost:        0,
			Condition:   ProximityCondition{Right: to.Term},
			Conditional: true,
		}}, nil
	}
	specs := make([]EdgeSpec[ProximityCondition], 0, index.MaxProximity+1)
	for p := 1; p <= index.MaxProximity; p++ {
		specs = append(specs, EdgeSpec[ProximityCondition]{
			Cost:        uint32(p - 1),
			Condition:   ProximityCondition{Left: from.Term, Right: to.Term, Proximity: uint8(p)},
			Conditional: true,
		})
	}
	specs = append(specs, EdgeSpec[ProximityCondition]{
		Cost:        index.MaxProximity,
		Condition:   ProximityCondition{Right: to.Term},
		Conditional: true,
	})
	return specs, nil
}

// ResolveCondition unions, over every pair of words the two terms may match,
// the documents where the left word precedes the right one at the
// proximity, and those where it follows it one position closer.
func (proximityKind) ResolveCondition(c *Context, cond ProximityCondition, universe *roaring.Bitmap) (*roaring.Bitmap, error) {
	if cond.Proximity == 0 {
		docids, err := c.termDocids(cond.Right, derivationsAll)
		if err != nil {
			return nil, err
		}
		return roaring.And(docids, universe), nil
	}
	left, right := c.Term(cond.Left), c.Term(cond.Right)
	leftWords := left.Words()
	if left.IsPhrase() {
		leftWords = left.Phrase[len(left.Phrase)-1:]
	}
	rightWords := right.Words()
	if right.IsPhrase() {
		rightWords = right.Phrase[:1]
	}
	p := cond.Proximity

	docids := roaring.New()
	for _, l := range leftWords {
		for _, r := range rightWords {
			fwd, err := c.wordPairProximityDocids(p, l, r)
			if err != nil {
				return nil, err
			}
			docids.Or(fwd)
			if p > 1 {
				bwd, err := c.wordPairProximityDocids(p-1, r, l)
				if err != nil {
					return nil, err
				}
				docids.Or(bwd)
			}
		}
		if right.UsePrefixDB {
			fwd, err := c.wordPrefixPairProximityDocids(p, l, right.Original)
			if err != nil {
				return nil, err
			}
			docids.Or(fwd)
			if p > 1 {
				bwd, err := c.prefixWordPairProximityDocids(p-1, right.Original, l)
				if err != nil {
					return nil, err
				}
				docids.Or(bwd)
			}
		}
	}
	docids.And(universe)
	return docids, nil
}

func (proximityKind) LogState(logger SearchLogger, state GraphState) {
	logger.LogProximityState(state)
}

func (cond ProximityCondition) String() string {
	if cond.Proximity == 0 {
		return cond.Right.String()
	}
	return fmt.Sprintf("%s-%d->%s", cond.Left, cond.Proximity, cond.Right)
}
