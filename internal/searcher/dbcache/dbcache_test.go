package dbcache

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/interner"
	apperrors "github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/errors"
)

type countingStore struct {
	data  map[string][]byte
	reads map[string]int
	fail  error
}

func newCountingStore() *countingStore {
	return &countingStore{
		data:  make(map[string][]byte),
		reads: make(map[string]int),
	}
}

func (s *countingStore) get(key string) ([]byte, error) {
	s.reads[key]++
	if s.fail != nil {
		return nil, s.fail
	}
	return s.data[key], nil
}

func (s *countingStore) WordDocids(w string) ([]byte, error) { return s.get("w:" + w) }
func (s *countingStore) ExactWordDocids(w string) ([]byte, error) { return s.get("e:" + w) }
func (s *countingStore) WordPrefixDocids(p string) ([]byte, error) { return s.get("p:" + p) }
func (s *countingStore) WordPairProximityDocids(x uint8, l, r string) ([]byte, error) {
	return s.get(fmt.Sprintf("wp:%d:%s:%s", x, l, r))
}
func (s *countingStore) WordPrefixPairProximityDocids(x uint8, l, r string) ([]byte, error) {
	return s.get(fmt.Sprintf("wpp:%d:%s:%s", x, l, r))
}
func (s *countingStore) PrefixWordPairProximityDocids(x uint8, l, r string) ([]byte, error) {
	return s.get(fmt.Sprintf("pwp:%d:%s:%s", x, l, r))
}

func TestLookupsHitStorageOnce(t *testing.T) {
	store := newCountingStore()
	store.data["w:sun"] = []byte{1, 2, 3}
	store.data["wp:2:sun:flower"] = []byte{4}
	words := interner.NewDedup[string]()
	sun, flower := words.Insert("sun"), words.Insert("flower")
	cache := New(store, words)

	lookups := []struct {
		name string
		key  string
		call func() ([]byte, error)
	}{
		{"word hit", "w:sun", func() ([]byte, error) { return cache.WordDocids(sun) }},
		{"word miss", "w:flower", func() ([]byte, error) { return cache.WordDocids(flower) }},
		{"exact", "e:sun", func() ([]byte, error) { return cache.ExactWordDocids(sun) }},
		{"prefix", "p:sun", func() ([]byte, error) { return cache.WordPrefixDocids(sun) }},
		{"pair", "wp:2:sun:flower", func() ([]byte, error) { return cache.WordPairProximityDocids(2, sun, flower) }},
		{"reversed pair", "wp:2:flower:sun", func() ([]byte, error) { return cache.WordPairProximityDocids(2, flower, sun) }},
		{"word prefix pair", "wpp:1:sun:flower", func() ([]byte, error) { return cache.WordPrefixPairProximityDocids(1, sun, flower) }},
		{"prefix word pair", "pwp:1:sun:flower", func() ([]byte, error) { return cache.PrefixWordPairProximityDocids(1, sun, flower) }},
	}
	for _, l := range lookups {
		t.Run(l.name, func(t *testing.T) {
			first, err := l.call()
			if err != nil {
				t.Fatalf("first lookup: %v", err)
			}
			second, err := l.call()
			if err != nil {
				t.Fatalf("second lookup: %v", err)
			}
			if store.reads[l.key] != 1 {
				t.Errorf("storage reads for %s = %d, want 1", l.key, store.reads[l.key])
			}
			if (first == nil) != (second == nil) || string(first) != string(second) {
				t.Errorf("second lookup returned %v, first %v", second, first)
			}
			if len(first) > 0 && &first[0] != &second[0] {
				t.Error("second lookup returned a copy instead of the cached slice")
			}
		})
	}

	stats := cache.Stats()
	if stats.Misses != len(lookups) || stats.Hits != len(lookups) {
		t.Errorf("stats = %+v, want %d hits and misses", stats, len(lookups))
	}
}

func TestStorageErrorNotCached(t *testing.T) {
	store := newCountingStore()
	store.fail = apperrors.Storage("word-docids", errors.New("disk gone"))
	words := interner.NewDedup[string]()
	h := words.Insert("sun")
	cache := New(store, words)

	if _, err := cache.WordDocids(h); !errors.Is(err, apperrors.ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage", err)
	}
	store.fail = nil
	if _, err := cache.WordDocids(h); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if store.reads["w:sun"] != 2 {
		t.Errorf("reads = %d, want 2", store.reads["w:sun"])
	}
}

func TestRawStoreErrorIsStorage(t *testing.T) {
	cause := errors.New("checksum mismatch")
	store := newCountingStore()
	store.fail = cause
	words := interner.NewDedup[string]()
	sun, flower := words.Insert("sun"), words.Insert("flower")
	cache := New(store, words)

	_, err := cache.WordPairProximityDocids(1, sun, flower)
	if !errors.Is(err, apperrors.ErrStorage) {
		t.Errorf("err = %v, want ErrStorage", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("err = %v, want the store error in the chain", err)
	}
}

func TestUnknownHandleIsInconsistent(t *testing.T) {
	cache := New(newCountingStore(), interner.NewDedup[string]())
	_, err := cache.WordDocids(interner.FromIndex[string](7))
	if !errors.Is(err, apperrors.ErrInconsistentIndexState) {
		t.Errorf("err = %v, want ErrInconsistentIndexState", err)
	}
}
