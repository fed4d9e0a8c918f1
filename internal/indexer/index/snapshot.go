package index

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"go.etcd.io/bbolt"

	apperrors "github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/errors"
)

// Snapshot is a read-only, point-in-time view of the index. Byte slices it
// returns point into the memory-mapped file and are only valid until Close.
// A Snapshot must not be shared between goroutines.
type Snapshot struct {
	tx *bbolt.Tx
}

// Close releases the snapshot.
func (s *Snapshot) Close() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	return err
}

func (s *Snapshot) get(bucket, key []byte) ([]byte, error) {
	if s.tx == nil {
		return nil, apperrors.Storage(string(bucket), bbolt.ErrTxClosed)
	}
	b := s.tx.Bucket(bucket)
	if b == nil {
		return nil, nil
	}
	return b.Get(key), nil
}

// WordDocids returns the posting list of word, or nil if the word is absent.
func (s *Snapshot) WordDocids(word string) ([]byte, error) {
	return s.get(bucketWordDocids, []byte(word))
}

// ExactWordDocids returns the posting list of word in exact-only attributes.
func (s *Snapshot) ExactWordDocids(word string) ([]byte, error) {
	return s.get(bucketExactWordDocids, []byte(word))
}

// WordPrefixDocids returns the documents containing a word starting with
// prefix, for prefixes up to MaxPrefixLength characters.
func (s *Snapshot) WordPrefixDocids(prefix string) ([]byte, error) {
	return s.get(bucketWordPrefixDocids, []byte(prefix))
}

// WordPairProximityDocids returns the documents where left is followed by
// right at the given proximity (minimum over the document).
func (s *Snapshot) WordPairProximityDocids(proximity uint8, left, right string) ([]byte, error) {
	return s.get(bucketWordPairProximityDocids, PairKey(proximity, left, right))
}

// WordPrefixPairProximityDocids is WordPairProximityDocids where the right
// member is a prefix.
func (s *Snapshot) WordPrefixPairProximityDocids(proximity uint8, left, rightPrefix string) ([]byte, error) {
	return s.get(bucketWordPrefixPairProximityDocids, PairKey(proximity, left, rightPrefix))
}

// PrefixWordPairProximityDocids is WordPairProximityDocids where the left
// member is a prefix.
func (s *Snapshot) PrefixWordPairProximityDocids(proximity uint8, leftPrefix, right string) ([]byte, error) {
	return s.get(bucketPrefixWordPairProximityDocids, PairKey(proximity, leftPrefix, right))
}

// DocumentsIDs returns every document id of the index.
func (s *Snapshot) DocumentsIDs() (*roaring.Bitmap, error) {
	return s.mainBitmap(keyDocumentsIDs)
}

// GeoFacetedDocumentsIDs returns the documents holding a valid _geo point.
func (s *Snapshot) GeoFacetedDocumentsIDs() (*roaring.Bitmap, error) {
	return s.mainBitmap(keyGeoFacetedDocumentsIDs)
}

func (s *Snapshot) mainBitmap(key []byte) (*roaring.Bitmap, error) {
	buf, err := s.get(bucketMain, key)
	if err != nil {
		return nil, err
	}
	bm, err := DecodeBitmap(buf)
	if err != nil {
		return nil, apperrors.Storage(string(key), err)
	}
	return bm, nil
}

// GeoPoint returns the coordinates of docid. ok is false when the document
// has no _geo field.
func (s *Snapshot) GeoPoint(docid uint32) (lat, lng float64, ok bool, err error) {
	buf, err := s.get(bucketGeoPoints, DocIDKey(docid))
	if err != nil || buf == nil {
		return 0, 0, false, err
	}
	lat, lng, err = decodeGeoPoint(buf)
	if err != nil {
		return 0, 0, false, apperrors.Storage("geo-points", err)
	}
	return lat, lng, true, nil
}

// ExternalID returns the primary-key value of docid.
func (s *Snapshot) ExternalID(docid uint32) (string, bool, error) {
	buf, err := s.get(bucketExternalIDs, DocIDKey(docid))
	if err != nil || buf == nil {
		return "", false, err
	}
	return string(buf), true, nil
}

// Settings returns the stored index settings, with defaults filled in.
func (s *Snapshot) Settings() (Settings, error) {
	var settings Settings
	if err := s.getJSON(keyPrimaryKey, &settings.PrimaryKey); err != nil {
		return settings, err
	}
	if err := s.getJSON(keyCriteria, &settings.Criteria); err != nil {
		return settings, err
	}
	if err := s.getJSON(keySortableFields, &settings.SortableFields); err != nil {
		return settings, err
	}
	return settings.withDefaults(), nil
}

func (s *Snapshot) getJSON(key []byte, v any) error {
	buf, err := s.get(bucketMain, key)
	if err != nil || buf == nil {
		return err
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return apperrors.Storage(string(key), err)
	}
	return nil
}

// WordsWithPrefix calls fn for every indexed word starting with prefix, in
// byte order, until fn returns false.
func (s *Snapshot) WordsWithPrefix(prefix string, fn func(word string, docids []byte) bool) error {
	if s.tx == nil {
		return apperrors.Storage(string(bucketWordDocids), bbolt.ErrTxClosed)
	}
	b := s.tx.Bucket(bucketWordDocids)
	if b == nil {
		return nil
	}
	p := []byte(prefix)
	c := b.Cursor()
	for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
		if !fn(string(k), v) {
			return nil
		}
	}
	return nil
}

// FacetNumbers walks the number values of field in ascending or descending
// order. fn receives each value with its posting list and returns false to
// stop.
func (s *Snapshot) FacetNumbers(field string, ascending bool, fn func(value float64, docids []byte) (bool, error)) error {
	return s.walk(facetNumberBucket(field), ascending, func(k, v []byte) (bool, error) {
		value, err := DecodeFloatKey(k)
		if err != nil {
			return false, apperrors.Storage("facet-number-"+field, err)
		}
		return fn(value, v)
	})
}

// FacetStrings walks the string values of field like FacetNumbers.
func (s *Snapshot) FacetStrings(field string, ascending bool, fn func(value string, docids []byte) (bool, error)) error {
	return s.walk(facetStringBucket(field), ascending, func(k, v []byte) (bool, error) {
		return fn(string(k), v)
	})
}

func (s *Snapshot) walk(bucket []byte, ascending bool, fn func(k, v []byte) (bool, error)) error {
	if s.tx == nil {
		return apperrors.Storage(string(bucket), bbolt.ErrTxClosed)
	}
	b := s.tx.Bucket(bucket)
	if b == nil {
		return nil
	}
	c := b.Cursor()
	first, next := c.First, c.Next
	if !ascending {
		first, next = c.Last, c.Prev
	}
	for k, v := first(); k != nil; k, v = next() {
		more, err := fn(k, v)
		if err != nil {
			return fmt.Errorf("walking %s: %w", bucket, err)
		}
		if !more {
			return nil
		}
	}
	return nil
}
