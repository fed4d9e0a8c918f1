package search

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/searcher/dbcache"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/errors"
)

// SortCriterion is one entry of the sort parameter: a field, or the
// distance to a point when Geo is set.
type SortCriterion struct {
	Field     string
	Ascending bool
	Geo       bool
	Lat, Lng  float64
}

func (s SortCriterion) String() string {
	dir := "desc"
	if s.Ascending {
		dir = "asc"
	}
	if s.Geo {
		return fmt.Sprintf("_geoPoint(%g,%g):%s", s.Lat, s.Lng, dir)
	}
	return s.Field + ":" + dir
}

// ParseSortCriterion parses "field:asc", "field:desc" or
// "_geoPoint(lat,lng):asc|desc".
func ParseSortCriterion(raw string) (SortCriterion, error) {
	raw = strings.TrimSpace(raw)
	i := strings.LastIndexByte(raw, ':')
	if i <= 0 {
		return SortCriterion{}, apperrors.InvalidSort("sort %q must be of the form field:asc or field:desc", raw)
	}
	target, dir := strings.TrimSpace(raw[:i]), strings.ToLower(strings.TrimSpace(raw[i+1:]))
	var crit SortCriterion
	switch dir {
	case "asc":
		crit.Ascending = true
	case "desc":
	default:
		return SortCriterion{}, apperrors.InvalidSort("invalid sort direction %q in %q", dir, raw)
	}

	if !strings.HasPrefix(target, "_geoPoint(") {
		if target == index.GeoField {
			return SortCriterion{}, apperrors.InvalidSort("%s can only be sorted by distance, use _geoPoint(lat,lng)", index.GeoField)
		}
		crit.Field = target
		return crit, nil
	}
	if !strings.HasSuffix(target, ")") {
		return SortCriterion{}, apperrors.InvalidSort("malformed geo point in %q", raw)
	}
	coords := strings.Split(strings.TrimSuffix(strings.TrimPrefix(target, "_geoPoint("), ")"), ",")
	if len(coords) != 2 {
		return SortCriterion{}, apperrors.InvalidSort("geo point %q needs a latitude and a longitude", target)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(coords[0]), 64)
	if err != nil {
		return SortCriterion{}, apperrors.InvalidSort("invalid latitude in %q", target)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(coords[1]), 64)
	if err != nil {
		return SortCriterion{}, apperrors.InvalidSort("invalid longitude in %q", target)
	}
	crit.Geo, crit.Field, crit.Lat, crit.Lng = true, index.GeoField, lat, lng
	return crit, nil
}

// Search is one query against an index snapshot.
type Search struct {
	Query *parser.QueryPlan
	// Filter restricts the candidates when non-nil.
	Filter      *roaring.Bitmap
	Sort        []SortCriterion
	GeoStrategy GeoSortStrategy
	Offset      int
	Limit       int
	Typos       TypoSettings
	Logger      SearchLogger
}

// Result is the page of a search.
type Result struct {
	DocumentsIDs []uint32
	// Candidates holds every document matching the query, not just the page.
	Candidates *roaring.Bitmap
	Rules      []string
	CacheStats dbcache.Stats
}

// Execute runs the search against idx.
func (s *Search) Execute(ctx context.Context, idx Index) (*Result, error) {
	logger := s.Logger
	if logger == nil {
		logger = NoopLogger{}
	}
	plan := s.Query
	if plan == nil {
		plan = &parser.QueryPlan{}
	}
	if s.Offset < 0 || s.Limit < 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "offset and limit must not be negative")
	}

	settings, err := idx.Settings()
	if err != nil {
		return nil, err
	}
	if err := validateSort(settings, s.Sort); err != nil {
		return nil, err
	}

	c := NewContext(idx, s.Typos)
	if b, ok := logger.(contextBinder); ok {
		b.bindContext(c)
	}
	query, err := BuildQueryGraph(c, plan)
	if err != nil {
		return nil, err
	}

	universe, err := c.initialUniverse(s.Filter, plan.ExcludeTerms)
	if err != nil {
		return nil, err
	}

	strategy := s.GeoStrategy
	if strategy == (GeoSortStrategy{}) {
		strategy = DefaultGeoSortStrategy
	}
	rules, err := buildRules(settings.Criteria, s.Sort, strategy, query == nil)
	if err != nil {
		return nil, err
	}

	if query != nil {
		reduced := query
		if slices.Contains(settings.Criteria, "words") {
			reduced = maximallyReduced(c, query)
		}
		logger.QueryForUniverse(reduced)
		matching, err := c.resolveQueryGraph(reduced, universe)
		if err != nil {
			return nil, err
		}
		universe = matching
	}

	out, err := bucketSort(ctx, c, rules, query, universe, s.Offset, s.Limit, logger)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID()
	}
	return &Result{
		DocumentsIDs: out.DocIDs,
		Candidates:   out.Candidates,
		Rules:        ids,
		CacheStats:   c.CacheStats(),
	}, nil
}

func validateSort(settings index.Settings, criteria []SortCriterion) error {
	if len(criteria) == 0 {
		return nil
	}
	if !slices.Contains(settings.Criteria, "sort") {
		return apperrors.InvalidSort("the sort ranking rule must be configured to sort search results, ranking rules are %v", settings.Criteria)
	}
	for _, crit := range criteria {
		if !slices.Contains(settings.SortableFields, crit.Field) {
			return apperrors.InvalidSort("attribute %q is not sortable, sortable attributes are %v", crit.Field, settings.SortableFields)
		}
		if crit.Geo && !validGeoPoint(crit.Lat, crit.Lng) {
			return apperrors.InvalidSort("invalid geo point (%g, %g)", crit.Lat, crit.Lng)
		}
	}
	return nil
}

func buildRules(criteria []string, sorts []SortCriterion, strategy GeoSortStrategy, placeholder bool) ([]RankingRule, error) {
	var rules []RankingRule
	for _, name := range criteria {
		switch name {
		case "words":
			if !placeholder {
				rules = append(rules, NewWords())
			}
		case "typo":
			if !placeholder {
				rules = append(rules, NewTypo())
			}
		case "proximity":
			if !placeholder {
				rules = append(rules, NewProximity())
			}
		case "sort":
			for _, s := range sorts {
				if s.Geo {
					rules = append(rules, NewGeoSort(s.Lat, s.Lng, s.Ascending, strategy))
				} else {
					rules = append(rules, NewSort(s.Field, s.Ascending))
				}
			}
		default:
			return nil, apperrors.Inconsistent("unknown ranking rule %q", name)
		}
	}
	return rules, nil
}

// initialUniverse returns every document, restricted to filter, minus those
// containing an excluded word.
func (c *Context) initialUniverse(filter *roaring.Bitmap, excluded []string) (*roaring.Bitmap, error) {
	universe, err := c.index.DocumentsIDs()
	if err != nil {
		return nil, err
	}
	if filter != nil {
		universe.And(filter)
	}
	for _, word := range excluded {
		w := c.words.Insert(word)
		docids, err := c.wordDocids(w)
		if err != nil {
			return nil, err
		}
		universe.AndNot(docids)
		exact, err := c.exactWordDocids(w)
		if err != nil {
			return nil, err
		}
		universe.AndNot(exact)
	}
	return universe, nil
}
