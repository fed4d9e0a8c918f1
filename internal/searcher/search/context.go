// Package search executes one query against an index snapshot. A query is
// turned into a graph of term alternatives, then a chain of ranking rules
// splits the candidate documents into ordered buckets until the requested
// page is filled.
//
// Everything in this package is scoped to a single search and is not safe
// for concurrent use. Concurrent searches each build their own Context.
package search

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/interner"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/searcher/dbcache"
	apperrors "github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/errors"
)

// Index is the read side of an index snapshot used by a search.
// *index.Snapshot implements it.
type Index interface {
	dbcache.Store
	DocumentsIDs() (*roaring.Bitmap, error)
	GeoFacetedDocumentsIDs() (*roaring.Bitmap, error)
	GeoPoint(docid uint32) (lat, lng float64, ok bool, err error)
	WordsWithPrefix(prefix string, fn func(word string, docids []byte) bool) error
	FacetNumbers(field string, ascending bool, fn func(value float64, docids []byte) (bool, error)) error
	FacetStrings(field string, ascending bool, fn func(value string, docids []byte) (bool, error)) error
	Settings() (index.Settings, error)
}

// TypoSettings holds the minimum word lengths, in characters, from which one
// and two typos are tolerated.
type TypoSettings struct {
	MinWordLenOneTypo int
	MinWordLenTwoTypo int
}

// DefaultTypoSettings tolerates one typo from 5 characters and two from 9.
var DefaultTypoSettings = TypoSettings{MinWordLenOneTypo: 5, MinWordLenTwoTypo: 9}

type termDocidsKey struct {
	term Term
	kind derivationKind
}

// Context owns every per-search structure: the interners, the lookup cache
// and decoded posting lists.
type Context struct {
	index Index
	typos TypoSettings

	words *interner.DedupInterner[string]
	terms *interner.FixedSizeInterner[QueryTerm]
	cache *dbcache.Cache

	termCache map[termDocidsKey]*roaring.Bitmap
}

// NewContext returns a Context reading from idx.
func NewContext(idx Index, typos TypoSettings) *Context {
	if typos.MinWordLenOneTypo <= 0 {
		typos.MinWordLenOneTypo = DefaultTypoSettings.MinWordLenOneTypo
	}
	if typos.MinWordLenTwoTypo <= 0 {
		typos.MinWordLenTwoTypo = DefaultTypoSettings.MinWordLenTwoTypo
	}
	words := interner.NewDedup[string]()
	return &Context{
		index:     idx,
		typos:     typos,
		words:     words,
		terms:     interner.NewFixed[QueryTerm](),
		cache:     dbcache.New(idx, words),
		termCache: make(map[termDocidsKey]*roaring.Bitmap),
	}
}

// CacheStats reports the lookup cache traffic of this search.
func (c *Context) CacheStats() dbcache.Stats {
	return c.cache.Stats()
}

// Word returns the string behind an interned word.
func (c *Context) Word(w Word) string {
	return c.words.Get(w)
}

// Term returns the query term behind a handle.
func (c *Context) Term(t Term) *QueryTerm {
	return c.terms.GetPtr(t)
}

func decode(buf []byte, op string) (*roaring.Bitmap, error) {
	bm, err := index.DecodeBitmap(buf)
	if err != nil {
		return nil, apperrors.Storage(op, err)
	}
	return bm, nil
}

func (c *Context) wordDocids(w Word) (*roaring.Bitmap, error) {
	buf, err := c.cache.WordDocids(w)
	if err != nil {
		return nil, err
	}
	return decode(buf, "word-docids")
}

func (c *Context) exactWordDocids(w Word) (*roaring.Bitmap, error) {
	buf, err := c.cache.ExactWordDocids(w)
	if err != nil {
		return nil, err
	}
	return decode(buf, "exact-word-docids")
}

func (c *Context) wordPrefixDocids(prefix Word) (*roaring.Bitmap, error) {
	buf, err := c.cache.WordPrefixDocids(prefix)
	if err != nil {
		return nil, err
	}
	return decode(buf, "word-prefix-docids")
}

func (c *Context) wordPairProximityDocids(proximity uint8, left, right Word) (*roaring.Bitmap, error) {
	buf, err := c.cache.WordPairProximityDocids(proximity, left, right)
	if err != nil {
		return nil, err
	}
	return decode(buf, "word-pair-proximity-docids")
}

func (c *Context) wordPrefixPairProximityDocids(proximity uint8, left, rightPrefix Word) (*roaring.Bitmap, error) {
	buf, err := c.cache.WordPrefixPairProximityDocids(proximity, left, rightPrefix)
	if err != nil {
		return nil, err
	}
	return decode(buf, "word-prefix-pair-proximity-docids")
}

func (c *Context) prefixWordPairProximityDocids(proximity uint8, leftPrefix, right Word) (*roaring.Bitmap, error) {
	buf, err := c.cache.PrefixWordPairProximityDocids(proximity, leftPrefix, right)
	if err != nil {
		return nil, err
	}
	return decode(buf, "prefix-word-pair-proximity-docids")
}
