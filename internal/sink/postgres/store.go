// Package postgres persists job listings in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spiderjobs/crawler/internal/pipeline"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool behind the listing store.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Store upserts listings keyed on content fingerprint, so a re-crawl of an
// unchanged posting refreshes its timestamp instead of duplicating the row.
type Store struct {
	pool  execCloser
	table string
}

// New connects a pool per the config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.postgres_dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "job_listings"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing).
func NewWithPool(pool execCloser, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "job_listings"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Write upserts one listing.
func (s *Store) Write(ctx context.Context, listing pipeline.JobListing) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (fingerprint, title, canonical_link, company, location, posted_date, salary, logo_url, skills, source_site, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (fingerprint) DO UPDATE
		SET posted_date = EXCLUDED.posted_date,
			salary = EXCLUDED.salary,
			fetched_at = EXCLUDED.fetched_at;
	`, s.table)

	fp := pipeline.FingerprintListing(listing)
	_, err := s.pool.Exec(ctx, query,
		string(fp),
		listing.Title,
		listing.CanonicalLink,
		listing.Company,
		listing.Location,
		listing.PostedDate,
		listing.Salary,
		listing.LogoURL,
		strings.Join(listing.Skills, ";"),
		string(listing.SourceSite),
		listing.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert listing %s: %w", listing.CanonicalLink, err)
	}
	return nil
}
