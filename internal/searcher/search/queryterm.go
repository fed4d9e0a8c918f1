package search

import (
	"strings"
	"unicode/utf8"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hbollon/go-edlib"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/interner"
)

// Word is an interned word or prefix.
type Word = interner.Interned[string]

// Term is an interned QueryTerm.
type Term = interner.Interned[QueryTerm]

const (
	maxPrefixDerivations = 50
	maxTypoDerivations   = 150
)

type derivationKind uint8

const (
	derivationsZeroTypo derivationKind = iota
	derivationsOneTypo
	derivationsTwoTypos
	derivationsAll
)

func typoDerivations(typos int) derivationKind {
	switch typos {
	case 0:
		return derivationsZeroTypo
	case 1:
		return derivationsOneTypo
	default:
		return derivationsTwoTypos
	}
}

// QueryTerm is one slot of the query with every word it may match.
type QueryTerm struct {
	Original Word
	// Phrase holds the words of a quoted phrase. Phrases never get typo or
	// prefix derivations.
	Phrase []Word
	// IsPrefix is set for the last word of a query still being typed.
	IsPrefix bool
	// IsNgram is set for the concatenation of two adjacent words.
	IsNgram bool
	// UsePrefixDB means prefix matches are read from the word-prefix
	// database instead of PrefixOf.
	UsePrefixDB bool
	PrefixOf    []Word
	OneTypo     []Word
	TwoTypos    []Word
	MaxTypos    int
	// Start and End are the indexes of the parsed terms covered.
	Start, End int
}

// IsPhrase reports whether the term is a quoted phrase.
func (t *QueryTerm) IsPhrase() bool {
	return len(t.Phrase) > 0
}

// HasDerivations reports whether the term can match with exactly typos typos.
func (t *QueryTerm) HasDerivations(typos int) bool {
	switch typos {
	case 0:
		return true
	case 1:
		return len(t.OneTypo) > 0
	case 2:
		return len(t.TwoTypos) > 0
	}
	return false
}

// Words returns the single words the term may match: the original word, its
// prefix and typo derivations. For a phrase it returns the phrase words.
func (t *QueryTerm) Words() []Word {
	if t.IsPhrase() {
		return t.Phrase
	}
	words := make([]Word, 0, 1+len(t.PrefixOf)+len(t.OneTypo)+len(t.TwoTypos))
	words = append(words, t.Original)
	words = append(words, t.PrefixOf...)
	words = append(words, t.OneTypo...)
	words = append(words, t.TwoTypos...)
	return words
}

// describe renders a term for logs.
func (c *Context) describe(t Term) string {
	qt := c.Term(t)
	if qt.IsPhrase() {
		parts := make([]string, len(qt.Phrase))
		for i, w := range qt.Phrase {
			parts[i] = c.Word(w)
		}
		return `"` + strings.Join(parts, " ") + `"`
	}
	s := c.Word(qt.Original)
	if qt.IsPrefix {
		s += "*"
	}
	return s
}

func (c *Context) typoBudget(word string) int {
	n := utf8.RuneCountInString(word)
	switch {
	case n >= c.typos.MinWordLenTwoTypo:
		return 2
	case n >= c.typos.MinWordLenOneTypo:
		return 1
	default:
		return 0
	}
}

func (c *Context) newWordTerm(word string, isPrefix, isNgram bool, start, end int) (Term, error) {
	qt := QueryTerm{
		Original: c.words.Insert(word),
		IsPrefix: isPrefix,
		IsNgram:  isNgram,
		Start:    start,
		End:      end,
	}
	if !isNgram {
		qt.MaxTypos = c.typoBudget(word)
	}
	if err := c.computeDerivations(&qt, word); err != nil {
		return Term{}, err
	}
	return c.terms.Push(qt), nil
}

func (c *Context) newPhraseTerm(words []string, start, end int) Term {
	qt := QueryTerm{Start: start, End: end}
	for _, w := range words {
		qt.Phrase = append(qt.Phrase, c.words.Insert(w))
	}
	qt.Original = qt.Phrase[0]
	return c.terms.Push(qt)
}

func (c *Context) computeDerivations(qt *QueryTerm, word string) error {
	if qt.IsPrefix {
		if utf8.RuneCountInString(word) <= index.MaxPrefixLength {
			qt.UsePrefixDB = true
		} else {
			err := c.index.WordsWithPrefix(word, func(w string, _ []byte) bool {
				if w != word {
					qt.PrefixOf = append(qt.PrefixOf, c.words.Insert(w))
				}
				return len(qt.PrefixOf) < maxPrefixDerivations
			})
			if err != nil {
				return err
			}
		}
	}
	if qt.MaxTypos == 0 {
		return nil
	}

	first, _ := utf8.DecodeRuneInString(word)
	runes := []rune(word)
	return c.index.WordsWithPrefix(string(first), func(candidate string, _ []byte) bool {
		if candidate == word {
			return true
		}
		target := candidate
		if qt.IsPrefix {
			if cr := []rune(candidate); len(cr) > len(runes) {
				target = string(cr[:len(runes)])
			}
			if target == word {
				// already matched as a prefix
				return true
			}
		}
		// an adjacent transposition counts as a single typo
		switch edlib.OSADamerauLevenshteinDistance(word, target) {
		case 1:
			if len(qt.OneTypo) < maxTypoDerivations {
				qt.OneTypo = append(qt.OneTypo, c.words.Insert(candidate))
			}
		case 2:
			if qt.MaxTypos >= 2 && len(qt.TwoTypos) < maxTypoDerivations {
				qt.TwoTypos = append(qt.TwoTypos, c.words.Insert(candidate))
			}
		}
		return len(qt.OneTypo) < maxTypoDerivations || (qt.MaxTypos >= 2 && len(qt.TwoTypos) < maxTypoDerivations)
	})
}

// termDocids returns the documents matching the derivations of t selected
// by kind. The returned bitmap is shared and must not be modified.
func (c *Context) termDocids(t Term, kind derivationKind) (*roaring.Bitmap, error) {
	key := termDocidsKey{term: t, kind: kind}
	if bm, ok := c.termCache[key]; ok {
		return bm, nil
	}
	qt := c.Term(t)
	var bm *roaring.Bitmap
	var err error
	switch kind {
	case derivationsZeroTypo:
		bm, err = c.zeroTypoDocids(qt)
	case derivationsOneTypo:
		bm, err = c.unionWordDocids(qt.OneTypo)
	case derivationsTwoTypos:
		bm, err = c.unionWordDocids(qt.TwoTypos)
	default:
		bm = roaring.New()
		for k := derivationsZeroTypo; k <= derivationsTwoTypos; k++ {
			part, err := c.termDocids(t, k)
			if err != nil {
				return nil, err
			}
			bm.Or(part)
		}
	}
	if err != nil {
		return nil, err
	}
	c.termCache[key] = bm
	return bm, nil
}

func (c *Context) zeroTypoDocids(qt *QueryTerm) (*roaring.Bitmap, error) {
	if qt.IsPhrase() {
		return c.phraseDocids(qt.Phrase)
	}
	bm, err := c.wordDocids(qt.Original)
	if err != nil {
		return nil, err
	}
	exact, err := c.exactWordDocids(qt.Original)
	if err != nil {
		return nil, err
	}
	bm.Or(exact)
	if qt.UsePrefixDB {
		prefix, err := c.wordPrefixDocids(qt.Original)
		if err != nil {
			return nil, err
		}
		bm.Or(prefix)
	}
	prefixOf, err := c.unionWordDocids(qt.PrefixOf)
	if err != nil {
		return nil, err
	}
	bm.Or(prefixOf)
	return bm, nil
}

func (c *Context) unionWordDocids(words []Word) (*roaring.Bitmap, error) {
	bm := roaring.New()
	for _, w := range words {
		docids, err := c.wordDocids(w)
		if err != nil {
			return nil, err
		}
		bm.Or(docids)
	}
	return bm, nil
}

// phraseDocids returns the documents where the words appear consecutively.
func (c *Context) phraseDocids(words []Word) (*roaring.Bitmap, error) {
	var bm *roaring.Bitmap
	for _, w := range words {
		docids, err := c.wordDocids(w)
		if err != nil {
			return nil, err
		}
		exact, err := c.exactWordDocids(w)
		if err != nil {
			return nil, err
		}
		docids.Or(exact)
		if bm == nil {
			bm = docids
		} else {
			bm.And(docids)
		}
		if bm.IsEmpty() {
			return bm, nil
		}
	}
	for i := 0; i+1 < len(words); i++ {
		pair, err := c.wordPairProximityDocids(1, words[i], words[i+1])
		if err != nil {
			return nil, err
		}
		bm.And(pair)
		if bm.IsEmpty() {
			break
		}
	}
	return bm, nil
}
