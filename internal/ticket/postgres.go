package ticket

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the Postgres connection pool used for tickets.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	Table           string        `mapstructure:"table" yaml:"table"`
	MaxConns        int32         `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns" yaml:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresSink writes tickets into a Postgres table.
type PostgresSink struct {
	pool  execCloser
	table string
}

// NewPostgresSink creates a Postgres-backed sink using the provided config.
func NewPostgresSink(ctx context.Context, cfg PostgresConfig) (*PostgresSink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("tickets.postgres.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "tickets"
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
	return &PostgresSink{pool: pool, table: table}, nil
}

// NewPostgresSinkWithPool constructs a sink from an existing pool, primarily
// for testing.
func NewPostgresSinkWithPool(pool execCloser, table string) (*PostgresSink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "tickets"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresSink{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *PostgresSink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Write inserts the ticket and returns a table-scoped reference. Exec
// failures are reported as transient so the caller's single retry applies.
func (s *PostgresSink) Write(ctx context.Context, t Ticket) (string, error) {
	if s == nil || s.pool == nil {
		return "", fmt.Errorf("ticket sink is not configured")
	}
	if t.ID == "" {
		return "", fmt.Errorf("ticket id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	challenge_id,
	title,
	url,
	topic,
	module,
	category,
	content,
	validated,
	iterations,
	finalized_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (id) DO UPDATE SET
	content = EXCLUDED.content,
	validated = EXCLUDED.validated,
	iterations = EXCLUDED.iterations,
	finalized_at = EXCLUDED.finalized_at`, s.table)

	args := []any{
		t.ID,
		t.ChallengeID,
		t.Title,
		t.URL,
		t.Topic,
		t.Module,
		t.Category,
		t.Content,
		t.Validated,
		t.Iterations,
		t.FinalizedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return "", fmt.Errorf("%w: insert ticket: %v", ErrIO, err)
	}
	return fmt.Sprintf("postgres://%s/%s", s.table, t.ID), nil
}
