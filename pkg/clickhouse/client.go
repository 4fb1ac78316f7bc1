package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	_ "github.com/ClickHouse/clickhouse-go/v2"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Client wraps the database/sql pool opened through clickhouse-go.
type Client struct {
	db       *sql.DB
	database string
}

// NewClient opens the pool and pings the server within the dial timeout.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("clickhouse config: %w", err)
	}

	db, err := sql.Open("clickhouse", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return &Client{db: db, database: cfg.Database}, nil
}

// DB returns the pool for repositories.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Database is the configured database name.
func (c *Client) Database() string {
	return c.database
}

// Table qualifies name with the configured database.
func (c *Client) Table(name string) string {
	return c.database + "." + name
}

// EnsureDatabase creates the configured database if missing.
func (c *Client) EnsureDatabase(ctx context.Context) error {
	if !identRe.MatchString(c.database) {
		return fmt.Errorf("clickhouse: invalid database name %q", c.database)
	}
	if _, err := c.db.ExecContext(ctx, "CREATE DATABASE IF NOT EXISTS "+c.database); err != nil {
		return fmt.Errorf("create database %s: %w", c.database, err)
	}
	return nil
}

// Close closes the pool.
func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}
