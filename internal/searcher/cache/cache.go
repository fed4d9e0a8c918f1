// Package cache keeps search results in Redis, keyed by the normalized
// request. Concurrent identical misses are collapsed into one search, and a
// circuit breaker takes Redis out of the request path while it is failing.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/config"
	pkgredis "github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/resilience"
)

const keyPrefix = "search:"

// Store is the subset of the Redis client the cache uses.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type QueryCache struct {
	client  Store
	cfg     config.RedisConfig
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New returns a cache over client. breaker may be nil.
func New(client Store, cfg config.RedisConfig, breaker *resilience.CircuitBreaker) *QueryCache {
	return &QueryCache{
		client:  client,
		cfg:     cfg,
		breaker: breaker,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache) call(fn func() error) error {
	if c.breaker == nil {
		return fn()
	}
	return c.breaker.Execute(fn)
}

func (c *QueryCache) Get(ctx context.Context, req executor.Request) (*executor.SearchResult, bool) {
	key := BuildKey(req)
	var data []byte
	found := false
	err := c.call(func() error {
		v, err := c.client.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			return nil
		}
		if err != nil {
			return err
		}
		data, found = v, true
		return nil
	})
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	if !found {
		c.misses.Add(1)
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "query", req.Query, "key", key)
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, req executor.Request, result *executor.SearchResult) {
	key := BuildKey(req)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.call(func() error {
		return c.client.Set(ctx, key, data, c.cfg.CacheTTL)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for req, or runs compute once for
// all concurrent callers with the same key and caches its result. Errors
// are not cached.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	req executor.Request,
	compute func() (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	if result, ok := c.Get(ctx, req); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(BuildKey(req), func() (interface{}, error) {
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, req, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*executor.SearchResult), false, nil
}

// Invalidate drops every cached result. The indexer's commits make all of
// them stale at once.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// BuildKey hashes the normalized request. Term order and the prefix flag
// are kept because they change the ranking; excluded words are not ordered.
func BuildKey(req executor.Request) string {
	raw := fmt.Sprintf("%s|offset=%d|limit=%d|sort=%s",
		normalizeQuery(req.Query), req.Offset, req.Limit, sortKey(req))
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

func normalizeQuery(query string) string {
	plan := parser.Parse(query)
	terms := make([]string, len(plan.Terms))
	for i, t := range plan.Terms {
		terms[i] = t.String()
	}
	excludes := slices.Clone(plan.ExcludeTerms)
	slices.Sort(excludes)
	parts := []string{strings.Join(terms, ",")}
	if plan.PrefixLast {
		parts = append(parts, "PREFIX")
	}
	if len(excludes) > 0 {
		parts = append(parts, "NOT:"+strings.Join(excludes, ","))
	}
	return strings.Join(parts, "|")
}

func sortKey(req executor.Request) string {
	parts := make([]string, 0, len(req.Sort)+1)
	for _, s := range req.Sort {
		parts = append(parts, s.String())
	}
	if req.GeoStrategy != nil {
		parts = append(parts, "geo="+req.GeoStrategy.String())
	}
	return strings.Join(parts, ",")
}
