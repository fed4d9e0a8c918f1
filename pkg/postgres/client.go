// Package postgres opens the lib/pq connection pool that backs the analytics
// snapshot store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/resilience"
	"github.com/lib/pq"
)

const connectTimeout = 5 * time.Second

type Client struct {
	DB *sql.DB
}

// New opens the pool and waits for the server, retrying the first ping a
// few times since the analytics service often starts alongside Postgres.
func New(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	connect := resilience.RetryConfig{
		MaxAttempts:  4,
		InitialDelay: 250 * time.Millisecond,
		Permanent:    IsPermanent,
	}
	err = resilience.Retry(ctx, "postgres-connect", connect, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres %s/%s: %w", cfg.Host, cfg.Database, err)
	}
	return &Client{DB: db}, nil
}

// Ping checks that the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *Client) Close() error {
	return c.DB.Close()
}

// InTx runs fn in a transaction, committing when it returns nil and rolling
// back otherwise.
func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rolling back: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// IsPermanent reports server errors that a retry will not fix: bad
// credentials, malformed SQL, constraint and data violations.
func IsPermanent(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code.Class() {
	case "22", "23", "28", "42":
		return true
	}
	return false
}
