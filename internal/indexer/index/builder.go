package index

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"go.etcd.io/bbolt"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/errors"
)

// Builder accumulates documents in memory and writes them to an Index in a
// single write transaction. Document ids are assigned sequentially,
// continuing after the highest id already stored.
type Builder struct {
	mu       sync.Mutex
	settings Settings
	nextID   uint32
	docCount int
	size     int64

	documents *roaring.Bitmap
	geoDocs   *roaring.Bitmap
	postings  map[string]map[string]*roaring.Bitmap
	numbers   map[string]map[float64]*roaring.Bitmap
	strs      map[string]map[string]*roaring.Bitmap
	points    map[uint32][2]float64
	external  map[uint32]string
}

// NewBuilder returns a Builder whose first document gets the id after the
// highest one stored in idx.
func (i *Index) NewBuilder(settings Settings) (*Builder, error) {
	b := &Builder{settings: settings.withDefaults()}
	err := i.View(func(s *Snapshot) error {
		ids, err := s.DocumentsIDs()
		if err != nil {
			return err
		}
		if !ids.IsEmpty() {
			b.nextID = ids.Maximum() + 1
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading existing document ids: %w", err)
	}
	b.reset()
	return b, nil
}

func (b *Builder) reset() {
	b.docCount = 0
	b.size = 0
	b.documents = roaring.New()
	b.geoDocs = roaring.New()
	b.postings = make(map[string]map[string]*roaring.Bitmap)
	b.numbers = make(map[string]map[float64]*roaring.Bitmap)
	b.strs = make(map[string]map[string]*roaring.Bitmap)
	b.points = make(map[uint32][2]float64)
	b.external = make(map[uint32]string)
}

func (b *Builder) add(bucket []byte, key string, docid uint32) {
	m, ok := b.postings[string(bucket)]
	if !ok {
		m = make(map[string]*roaring.Bitmap)
		b.postings[string(bucket)] = m
	}
	bm, ok := m[key]
	if !ok {
		bm = roaring.New()
		m[key] = bm
		b.size += int64(len(key)) + 64
	}
	bm.Add(docid)
	b.size += 4
}

// AddDocument indexes one JSON-like document and returns its internal id.
func (b *Builder) AddDocument(doc map[string]any) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	docid := b.nextID
	var lat, lng float64
	hasGeo := false
	if raw, ok := doc[GeoField]; ok && raw != nil {
		var err error
		lat, lng, err = parseGeo(raw)
		if err != nil {
			return 0, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "document %d: %v", docid, err)
		}
		hasGeo = true
	}

	exact := make(map[string]bool, len(b.settings.ExactAttributes))
	for _, f := range b.settings.ExactAttributes {
		exact[f] = true
	}

	pairs := make(map[pairEntry]uint8)
	for _, field := range b.searchableFields(doc) {
		texts := stringValues(doc[field])
		for _, text := range texts {
			tokens := tokenizer.Tokenize(text)
			for n, tok := range tokens {
				if exact[field] {
					b.add(bucketExactWordDocids, tok.Term, docid)
				} else {
					b.add(bucketWordDocids, tok.Term, docid)
					for _, p := range prefixes(tok.Term) {
						b.add(bucketWordPrefixDocids, p, docid)
					}
				}
				for _, next := range tokens[n+1:] {
					dist := next.Position - tok.Position
					if dist > MaxProximity {
						break
					}
					minPair(pairs, bucketWordPairProximityDocids, tok.Term, next.Term, dist)
					for _, p := range prefixes(next.Term) {
						minPair(pairs, bucketWordPrefixPairProximityDocids, tok.Term, p, dist)
					}
					for _, p := range prefixes(tok.Term) {
						minPair(pairs, bucketPrefixWordPairProximityDocids, p, next.Term, dist)
					}
				}
			}
		}
	}
	for e, prox := range pairs {
		b.add([]byte(e.bucket), string(PairKey(prox, e.left, e.right)), docid)
	}

	for _, field := range b.settings.SortableFields {
		if field == GeoField {
			continue
		}
		b.addFacet(field, doc[field], docid)
	}
	if hasGeo {
		b.geoDocs.Add(docid)
		b.points[docid] = [2]float64{lat, lng}
	}
	b.external[docid] = externalID(doc[b.settings.PrimaryKey], docid)
	b.documents.Add(docid)
	b.nextID++
	b.docCount++
	return docid, nil
}

type pairEntry struct {
	bucket      string
	left, right string
}

// minPair keeps the smallest distance seen for a pair within one document.
func minPair(pairs map[pairEntry]uint8, bucket []byte, left, right string, dist int) {
	key := pairEntry{bucket: string(bucket), left: left, right: right}
	if cur, ok := pairs[key]; !ok || uint8(dist) < cur {
		pairs[key] = uint8(dist)
	}
}

func (b *Builder) searchableFields(doc map[string]any) []string {
	if len(b.settings.SearchableFields) > 0 {
		return b.settings.SearchableFields
	}
	fields := make([]string, 0, len(doc))
	for f := range doc {
		if f == GeoField {
			continue
		}
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func (b *Builder) addFacet(field string, v any, docid uint32) {
	switch val := v.(type) {
	case []any:
		for _, e := range val {
			b.addFacet(field, e, docid)
		}
	case string:
		b.addStringFacet(field, strings.ToLower(val), docid)
	case bool:
		// booleans sort as the strings "false" and "true"
		b.addStringFacet(field, strconv.FormatBool(val), docid)
	default:
		f, ok := toFloat(v)
		if !ok {
			// null and objects have no sortable value
			return
		}
		m, ok := b.numbers[field]
		if !ok {
			m = make(map[float64]*roaring.Bitmap)
			b.numbers[field] = m
		}
		if m[f] == nil {
			m[f] = roaring.New()
		}
		m[f].Add(docid)
	}
}

func (b *Builder) addStringFacet(field, key string, docid uint32) {
	m, ok := b.strs[field]
	if !ok {
		m = make(map[string]*roaring.Bitmap)
		b.strs[field] = m
	}
	if m[key] == nil {
		m[key] = roaring.New()
	}
	m[key].Add(docid)
}

// DocCount returns the number of documents added since the last Commit.
func (b *Builder) DocCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.docCount
}

// Size returns a rough estimate, in bytes, of the pending postings.
func (b *Builder) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Commit merges the pending documents into idx and resets the builder.
// Posting lists already present are unioned with the new ones.
func (b *Builder) Commit(idx *Index) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := idx.db.Update(func(tx *bbolt.Tx) error {
		main, err := tx.CreateBucketIfNotExists(bucketMain)
		if err != nil {
			return err
		}
		if err := mergeBitmap(main, keyDocumentsIDs, b.documents); err != nil {
			return err
		}
		if err := mergeBitmap(main, keyGeoFacetedDocumentsIDs, b.geoDocs); err != nil {
			return err
		}
		if err := putJSON(main, keyPrimaryKey, b.settings.PrimaryKey); err != nil {
			return err
		}
		if err := putJSON(main, keyCriteria, b.settings.Criteria); err != nil {
			return err
		}
		if err := putJSON(main, keySortableFields, b.settings.SortableFields); err != nil {
			return err
		}

		for _, name := range [][]byte{
			bucketWordDocids, bucketExactWordDocids, bucketWordPrefixDocids,
			bucketWordPairProximityDocids, bucketWordPrefixPairProximityDocids,
			bucketPrefixWordPairProximityDocids,
		} {
			if err := mergeAll(tx, name, b.postings[string(name)]); err != nil {
				return err
			}
		}
		for field, values := range b.numbers {
			m := make(map[string]*roaring.Bitmap, len(values))
			for f, bm := range values {
				m[string(FloatKey(f))] = bm
			}
			if err := mergeAll(tx, facetNumberBucket(field), m); err != nil {
				return err
			}
		}
		for field, values := range b.strs {
			if err := mergeAll(tx, facetStringBucket(field), values); err != nil {
				return err
			}
		}

		geo, err := tx.CreateBucketIfNotExists(bucketGeoPoints)
		if err != nil {
			return err
		}
		for docid, p := range b.points {
			if err := geo.Put(DocIDKey(docid), encodeGeoPoint(p[0], p[1])); err != nil {
				return err
			}
		}
		ext, err := tx.CreateBucketIfNotExists(bucketExternalIDs)
		if err != nil {
			return err
		}
		for docid, id := range b.external {
			if err := ext.Put(DocIDKey(docid), []byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.Storage("commit", err)
	}
	idx.logger.Info("documents committed", "documents", b.docCount, "next_id", b.nextID)
	b.reset()
	return nil
}

func mergeAll(tx *bbolt.Tx, name []byte, entries map[string]*roaring.Bitmap) error {
	if len(entries) == 0 {
		return nil
	}
	bucket, err := tx.CreateBucketIfNotExists(name)
	if err != nil {
		return fmt.Errorf("creating bucket %s: %w", name, err)
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := mergeBitmap(bucket, []byte(k), entries[k]); err != nil {
			return err
		}
	}
	return nil
}

func mergeBitmap(bucket *bbolt.Bucket, key []byte, bm *roaring.Bitmap) error {
	merged := bm.Clone()
	if existing := bucket.Get(key); existing != nil {
		old, err := DecodeBitmap(existing)
		if err != nil {
			return fmt.Errorf("merging %q: %w", key, err)
		}
		merged.Or(old)
	}
	buf, err := EncodeBitmap(merged)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}
	return bucket.Put(key, buf)
}

// prefixes returns the distinct stored prefixes of word, shortest first.
// The word itself is included when it is short enough.
func prefixes(word string) []string {
	runes := []rune(word)
	n := min(len(runes), MaxPrefixLength)
	out := make([]string, 0, n)
	for l := 1; l <= n; l++ {
		out = append(out, string(runes[:l]))
	}
	return out
}

func stringValues(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []any:
		var out []string
		for _, e := range val {
			out = append(out, stringValues(e)...)
		}
		return out
	case float64, int, int64, json.Number:
		return []string{fmt.Sprint(val)}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, !math.IsNaN(val)
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint32:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	}
	return 0, false
}

func parseGeo(raw any) (lat, lng float64, err error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return 0, 0, fmt.Errorf("%s must be an object with lat and lng", GeoField)
	}
	coord := func(name string) (float64, error) {
		switch v := obj[name].(type) {
		case string:
			return strconv.ParseFloat(strings.TrimSpace(v), 64)
		default:
			f, ok := toFloat(v)
			if !ok {
				return 0, fmt.Errorf("%s.%s is missing or not a number", GeoField, name)
			}
			return f, nil
		}
	}
	if lat, err = coord("lat"); err != nil {
		return 0, 0, err
	}
	if lng, err = coord("lng"); err != nil {
		return 0, 0, err
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return 0, 0, fmt.Errorf("%s point (%v, %v) is out of range", GeoField, lat, lng)
	}
	return lat, lng, nil
}

func externalID(v any, docid uint32) string {
	switch val := v.(type) {
	case nil:
		return strconv.FormatUint(uint64(docid), 10)
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
