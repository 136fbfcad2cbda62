package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"collabdoc/doc"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	version    BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore persists documents as JSONB rows. The version column
// mirrors the document state's version and carries the compare-and-swap
// check: Put updates the row only when the stored version still matches.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger zerolog.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// EnsureSchema creates the documents table if it does not exist.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "ensure documents schema")
	}
	return nil
}

func (p *PostgresStore) Create(ctx context.Context, d *doc.Document) error {
	data, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "encode document")
	}
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO documents (id, data, version) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		d.ID, data, d.State.Version)
	if err != nil {
		return errors.Wrap(err, "insert document")
	}
	if tag.RowsAffected() == 0 {
		return ErrExists
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*doc.Document, error) {
	var data []byte
	err := p.pool.QueryRow(ctx,
		`SELECT data FROM documents WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select document")
	}
	var d doc.Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, errors.Wrap(err, "decode document")
	}
	return &d, nil
}

func (p *PostgresStore) Put(ctx context.Context, d *doc.Document, expectedVersion int64) error {
	data, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "encode document")
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE documents SET data = $2, version = $3, updated_at = now()
		 WHERE id = $1 AND version = $4`,
		d.ID, data, d.State.Version, expectedVersion)
	if err != nil {
		return errors.Wrap(err, "update document")
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from a lost race.
		var n int
		if err := p.pool.QueryRow(ctx,
			`SELECT 1 FROM documents WHERE id = $1`, d.ID).Scan(&n); errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		} else if err != nil {
			return errors.Wrap(err, "check document")
		}
		p.logger.Debug().Str("doc", d.ID).Int64("expected", expectedVersion).
			Msg("optimistic write lost the race")
		return ErrVersionMismatch
	}
	return nil
}
