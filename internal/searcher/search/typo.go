package search

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// TypoCondition selects the documents matching Term with exactly Typos
// typos.
type TypoCondition struct {
	Term  Term
	Typos uint8
}

type typoKind struct{}

// NewTypo returns the typo ranking rule. Entering a term node costs the
// number of typos of the matched derivation, so documents matching the
// query as typed come first.
func NewTypo() *GraphBasedRule[TypoCondition] {
	return newGraphBasedRule[TypoCondition]("typo", typoKind{})
}

func (typoKind) Name() string { return "typo" }

func (typoKind) BuildEdges(c *Context, query *QueryGraph, _, dest Node) ([]EdgeSpec[TypoCondition], error) {
	to := query.Nodes.Get(dest)
	if to.Kind != NodeTerm {
		return []EdgeSpec[TypoCondition]{{Cost: 0}}, nil
	}
	term := c.Term(to.Term)
	var specs []EdgeSpec[TypoCondition]
	for typos := 0; typos <= 2; typos++ {
		if !term.HasDerivations(typos) {
			continue
		}
		specs = append(specs, EdgeSpec[TypoCondition]{
			Cost:        uint32(typos),
			Condition:   TypoCondition{Term: to.Term, Typos: uint8(typos)},
			Conditional: true,
		})
	}
	return specs, nil
}

func (typoKind) ResolveCondition(c *Context, cond TypoCondition, universe *roaring.Bitmap) (*roaring.Bitmap, error) {
	docids, err := c.termDocids(cond.Term, typoDerivations(int(cond.Typos)))
	if err != nil {
		return nil, err
	}
	return roaring.And(docids, universe), nil
}

func (typoKind) LogState(logger SearchLogger, state GraphState) {
	logger.LogTypoState(state)
}

func (cond TypoCondition) String() string {
	return fmt.Sprintf("%s~%d", cond.Term, cond.Typos)
}
