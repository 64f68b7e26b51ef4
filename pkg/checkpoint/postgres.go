package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps each named checkpoint as one row of a table.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
	name  string
}

func NewPostgresStore(ctx context.Context, opts PostgresOptions, name string) (*PostgresStore, error) {
	if opts.Table == "" {
		opts.Table = "pubgraph_checkpoints"
	}

	pool, err := pgxpool.New(ctx, opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &PostgresStore{pool: pool, table: opts.Table, name: name}
	if err := s.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initialize(ctx context.Context) error {
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			data BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, pgx.Identifier{s.table}.Sanitize())

	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create checkpoint table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Read(ctx context.Context) ([]byte, error) {
	query := fmt.Sprintf(`SELECT data FROM %s WHERE name = $1`, pgx.Identifier{s.table}.Sanitize())

	var data []byte
	err := s.pool.QueryRow(ctx, query, s.name).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %q: %w", s.name, err)
	}
	return data, nil
}

// Write upserts the checkpoint row in a single statement.
func (s *PostgresStore) Write(ctx context.Context, data []byte) error {
	stmt := fmt.Sprintf(`
		INSERT INTO %s (name, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`,
		pgx.Identifier{s.table}.Sanitize())

	if _, err := s.pool.Exec(ctx, stmt, s.name, data); err != nil {
		return fmt.Errorf("failed to write checkpoint %q: %w", s.name, err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
