// Package dbcache memoizes posting-list lookups for the lifetime of one
// search. Every lookup is keyed by interned words, and both hits and misses
// are remembered, so a key reaches storage at most once per snapshot.
//
// Returned byte slices belong to the snapshot the Store reads from. A Cache
// must be discarded together with that snapshot.
package dbcache

import (
	"errors"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/interner"
	apperrors "github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/errors"
)

// Store is the read side of an index snapshot. A nil slice with a nil error
// means the key is absent.
type Store interface {
	WordDocids(word string) ([]byte, error)
	ExactWordDocids(word string) ([]byte, error)
	WordPrefixDocids(prefix string) ([]byte, error)
	WordPairProximityDocids(proximity uint8, left, right string) ([]byte, error)
	WordPrefixPairProximityDocids(proximity uint8, left, rightPrefix string) ([]byte, error)
	PrefixWordPairProximityDocids(proximity uint8, leftPrefix, right string) ([]byte, error)
}

// Word is an interned query word or prefix.
type Word = interner.Interned[string]

type pairKey struct {
	proximity   uint8
	left, right Word
}

// Stats counts cache traffic.
type Stats struct {
	Hits   int
	Misses int
}

// Cache is a per-search lookup cache. It is not safe for concurrent use.
type Cache struct {
	store Store
	words *interner.DedupInterner[string]
	stats Stats

	wordDocids                    map[Word][]byte
	exactWordDocids               map[Word][]byte
	wordPrefixDocids              map[Word][]byte
	wordPairProximityDocids       map[pairKey][]byte
	wordPrefixPairProximityDocids map[pairKey][]byte
	prefixWordPairProximityDocids map[pairKey][]byte
}

// New returns an empty cache reading from store. Word handles passed to the
// lookups must come from words.
func New(store Store, words *interner.DedupInterner[string]) *Cache {
	return &Cache{
		store:                         store,
		words:                         words,
		wordDocids:                    make(map[Word][]byte),
		exactWordDocids:               make(map[Word][]byte),
		wordPrefixDocids:              make(map[Word][]byte),
		wordPairProximityDocids:       make(map[pairKey][]byte),
		wordPrefixPairProximityDocids: make(map[pairKey][]byte),
		prefixWordPairProximityDocids: make(map[pairKey][]byte),
	}
}

// Words returns the interner the cache resolves handles with.
func (c *Cache) Words() *interner.DedupInterner[string] {
	return c.words
}

// Stats returns the hit and miss counts so far.
func (c *Cache) Stats() Stats {
	return c.stats
}

func (c *Cache) word(h Word) (string, error) {
	if h.Index() >= c.words.Len() {
		return "", apperrors.Inconsistent("word handle %s has no interned value", h)
	}
	return c.words.Get(h), nil
}

func getOrFetch[K comparable](c *Cache, cache map[K][]byte, key K, fetch func() ([]byte, error)) ([]byte, error) {
	if buf, ok := cache[key]; ok {
		c.stats.Hits++
		return buf, nil
	}
	c.stats.Misses++
	buf, err := fetch()
	if err != nil {
		if !errors.Is(err, apperrors.ErrStorage) && !errors.Is(err, apperrors.ErrInconsistentIndexState) {
			err = apperrors.Storage("lookup", err)
		}
		return nil, err
	}
	cache[key] = buf
	return buf, nil
}

func (c *Cache) single(cache map[Word][]byte, h Word, lookup func(string) ([]byte, error)) ([]byte, error) {
	return getOrFetch(c, cache, h, func() ([]byte, error) {
		w, err := c.word(h)
		if err != nil {
			return nil, err
		}
		return lookup(w)
	})
}

func (c *Cache) pair(cache map[pairKey][]byte, key pairKey, lookup func(uint8, string, string) ([]byte, error)) ([]byte, error) {
	return getOrFetch(c, cache, key, func() ([]byte, error) {
		left, err := c.word(key.left)
		if err != nil {
			return nil, err
		}
		right, err := c.word(key.right)
		if err != nil {
			return nil, err
		}
		return lookup(key.proximity, left, right)
	})
}

// WordDocids returns the posting list of word.
func (c *Cache) WordDocids(word Word) ([]byte, error) {
	return c.single(c.wordDocids, word, c.store.WordDocids)
}

// ExactWordDocids returns the posting list of word in exact-only attributes.
func (c *Cache) ExactWordDocids(word Word) ([]byte, error) {
	return c.single(c.exactWordDocids, word, c.store.ExactWordDocids)
}

// WordPrefixDocids returns the documents holding a word starting with prefix.
func (c *Cache) WordPrefixDocids(prefix Word) ([]byte, error) {
	return c.single(c.wordPrefixDocids, prefix, c.store.WordPrefixDocids)
}

// WordPairProximityDocids returns the documents where left precedes right at
// the given proximity.
func (c *Cache) WordPairProximityDocids(proximity uint8, left, right Word) ([]byte, error) {
	return c.pair(c.wordPairProximityDocids, pairKey{proximity, left, right}, c.store.WordPairProximityDocids)
}

// WordPrefixPairProximityDocids is WordPairProximityDocids with a prefix on
// the right.
func (c *Cache) WordPrefixPairProximityDocids(proximity uint8, left, rightPrefix Word) ([]byte, error) {
	return c.pair(c.wordPrefixPairProximityDocids, pairKey{proximity, left, rightPrefix}, c.store.WordPrefixPairProximityDocids)
}

// PrefixWordPairProximityDocids is WordPairProximityDocids with a prefix on
// the left.
func (c *Cache) PrefixWordPairProximityDocids(proximity uint8, leftPrefix, right Word) ([]byte, error) {
	return c.pair(c.prefixWordPairProximityDocids, pairKey{proximity, leftPrefix, right}, c.store.PrefixWordPairProximityDocids)
}
