// Package redis wraps go-redis/v9 for the search result cache.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/config"
	"github.com/redis/go-redis/v9"
)

// scanCount is the SCAN page size and the number of keys unlinked per
// pipeline round trip.
const scanCount = 256

type Client struct {
	rdb *redis.Client
}

// NewClient connects and fails fast when the server does not answer a PING.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
		// cache round trips stay well under the search timeout
		ReadTimeout:  200 * time.Millisecond,
		WriteTimeout: 200 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Get returns the raw value of key; a missing key yields an error for which
// IsNilError is true.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	return c.rdb.Get(ctx, key).Bytes()
}

func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// FlushByPattern removes every key matching the glob pattern and returns how
// many were removed. Keys are collected with SCAN and released with UNLINK in
// pipelined pages, so large caches are dropped without blocking the server.
func (c *Client) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	var removed int64
	page := make([]string, 0, scanCount)

	flush := func() error {
		if len(page) == 0 {
			return nil
		}
		pipe := c.rdb.Pipeline()
		unlink := pipe.Unlink(ctx, page...)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("unlinking %d keys: %w", len(page), err)
		}
		removed += unlink.Val()
		page = page[:0]
		return nil
	}

	iter := c.rdb.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		page = append(page, iter.Val())
		if len(page) == scanCount {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scanning %s: %w", pattern, err)
	}
	return removed, flush()
}

// IsNilError reports whether err means the key does not exist.
func IsNilError(err error) bool {
	return errors.Is(err, redis.Nil)
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
