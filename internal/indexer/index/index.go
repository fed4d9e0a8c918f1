// Package index is the on-disk inverted index. It is stored in a bbolt file
// where every logical database (word postings, prefix postings, word pairs by
// proximity, facets, geo points) is a bucket. Searches read it through a
// Snapshot, one read-only bbolt transaction.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"go.etcd.io/bbolt"

	apperrors "github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/errors"
)

// Bucket names. Each one is a logical database of the index.
var (
	bucketMain                          = []byte("main")
	bucketWordDocids                    = []byte("word-docids")
	bucketExactWordDocids               = []byte("exact-word-docids")
	bucketWordPrefixDocids              = []byte("word-prefix-docids")
	bucketWordPairProximityDocids       = []byte("word-pair-proximity-docids")
	bucketWordPrefixPairProximityDocids = []byte("word-prefix-pair-proximity-docids")
	bucketPrefixWordPairProximityDocids = []byte("prefix-word-pair-proximity-docids")
	bucketGeoPoints                     = []byte("geo-points")
	bucketExternalIDs                   = []byte("external-ids")
)

// Keys of the main bucket.
var (
	keyDocumentsIDs           = []byte("documents-ids")
	keyGeoFacetedDocumentsIDs = []byte("geo-faceted-documents-ids")
	keyCriteria               = []byte("criteria")
	keySortableFields         = []byte("sortable-fields")
	keyPrimaryKey             = []byte("primary-key")
)

const (
	// MaxProximity is the largest word distance stored in the pair databases.
	MaxProximity = 7
	// MaxPrefixLength is the longest prefix stored in the prefix databases.
	MaxPrefixLength = 4
	// GeoField is the reserved field holding {"lat": .., "lng": ..}.
	GeoField = "_geo"
)

// DefaultCriteria is the ranking rule order used when none was configured.
var DefaultCriteria = []string{"words", "typo", "proximity", "sort"}

func facetNumberBucket(field string) []byte {
	return []byte("facet-number-" + field)
}

func facetStringBucket(field string) []byte {
	return []byte("facet-string-" + field)
}

// Options controls how the index file is opened.
type Options struct {
	ReadOnly    bool
	OpenTimeout time.Duration
}

// Index is an opened index file. It is safe for concurrent use: every
// search takes its own Snapshot.
type Index struct {
	db     *bbolt.DB
	path   string
	logger *slog.Logger
}

// Open opens (or creates, unless read-only) the index file at path.
func Open(path string, opts Options) (*Index, error) {
	if opts.ReadOnly {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NotFound("no index at %s", path)
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout:  opts.OpenTimeout,
		ReadOnly: opts.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("opening index %s: %w", path, err)
	}
	idx := &Index{
		db:     db,
		path:   path,
		logger: slog.Default().With("component", "index", "path", path),
	}
	idx.logger.Info("index opened", "read_only", opts.ReadOnly)
	return idx, nil
}

// ReadTxn opens a read-only snapshot. The caller must Close it; every byte
// slice obtained through it becomes invalid at that point.
func (i *Index) ReadTxn() (*Snapshot, error) {
	tx, err := i.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("beginning read transaction: %w", err)
	}
	return &Snapshot{tx: tx}, nil
}

// View runs fn against a snapshot that is closed when fn returns.
func (i *Index) View(fn func(s *Snapshot) error) error {
	snap, err := i.ReadTxn()
	if err != nil {
		return err
	}
	defer snap.Close()
	return fn(snap)
}

// Path returns the location of the index file.
func (i *Index) Path() string {
	return i.path
}

// Close closes the index file. Open snapshots must be closed first.
func (i *Index) Close() error {
	return i.db.Close()
}

// Settings are the index-level options stored alongside the data.
type Settings struct {
	PrimaryKey       string   `json:"primary_key"`
	SearchableFields []string `json:"searchable_fields,omitempty"`
	ExactAttributes  []string `json:"exact_attributes,omitempty"`
	SortableFields   []string `json:"sortable_fields,omitempty"`
	Criteria         []string `json:"criteria,omitempty"`
}

func (s Settings) withDefaults() Settings {
	if s.PrimaryKey == "" {
		s.PrimaryKey = "id"
	}
	if len(s.Criteria) == 0 {
		s.Criteria = append([]string(nil), DefaultCriteria...)
	}
	return s
}

func putJSON(b *bbolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return b.Put(key, data)
}
