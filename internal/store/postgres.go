package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the connection pool used for visit rows.
type PostgresConfig struct {
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

// Postgres writes run and visit rows into Postgres. The visit table name is
// configurable; run summaries land in "<table>_runs".
type Postgres struct {
	pool  execCloser
	table string
}

// NewPostgres connects a pool using the provided config.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "visits"
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
	return &Postgres{pool: pool, table: table}, nil
}

// NewPostgresWithPool constructs a store from an existing pool (primarily
// for testing).
func NewPostgresWithPool(pool execCloser, table string) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "visits"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Postgres{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StoreRun inserts one run summary row.
func (s *Postgres) StoreRun(ctx context.Context, rec RunRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("visit store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s_runs (
	run_id,
	role,
	started_at,
	finished_at,
	visited,
	mismatches,
	clean
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)`, s.table)

	args := []any{
		rec.RunID,
		rec.Role,
		rec.Started,
		rec.Finished,
		rec.Visited,
		rec.Mismatches,
		rec.Clean,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// StoreVisit inserts one visit row.
func (s *Postgres) StoreVisit(ctx context.Context, rec VisitRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("visit store is not configured")
	}
	if rec.Key == "" {
		return fmt.Errorf("visit key is required")
	}
	reasonsJSON, err := json.Marshal(normalizeReasons(rec.Reasons))
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	role,
	ordinal,
	place_key,
	kind,
	label,
	status,
	outcome,
	reasons,
	dest,
	visited_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`, s.table)

	args := []any{
		rec.RunID,
		rec.Role,
		rec.Ordinal,
		rec.Key,
		rec.Kind,
		rec.Label,
		rec.Status,
		rec.Outcome,
		reasonsJSON,
		rec.Dest,
		rec.VisitedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

func normalizeReasons(reasons []string) []string {
	if len(reasons) == 0 {
		return []string{}
	}
	return append([]string(nil), reasons...)
}
