package idempotency

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists records in a PostgreSQL table, shared by every
// instance pointed at the same database.
type PostgresStore struct {
	pool *pgxpool.Pool
	opts options
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS submission_records (
    key TEXT PRIMARY KEY,
    route TEXT NOT NULL,
    status_code INT NOT NULL,
    response BYTEA NOT NULL,
    tx_hash TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS submission_records_expires_at ON submission_records (expires_at);
`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, opts: buildOptions(opts)}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	row := p.pool.QueryRow(ctx, `
SELECT route, status_code, response, tx_hash, created_at, expires_at
FROM submission_records
WHERE key = $1 AND expires_at > $2
`, key, p.opts.now())

	var rec Record
	if err := row.Scan(&rec.Route, &rec.StatusCode, &rec.Response, &rec.TxHash, &rec.CreatedAt, &rec.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (p *PostgresStore) Save(ctx context.Context, key string, record Record) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO submission_records (key, route, status_code, response, tx_hash, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (key) DO UPDATE
SET route = EXCLUDED.route,
    status_code = EXCLUDED.status_code,
    response = EXCLUDED.response,
    tx_hash = EXCLUDED.tx_hash,
    created_at = EXCLUDED.created_at,
    expires_at = EXCLUDED.expires_at
`, key, record.Route, record.StatusCode, record.Response, record.TxHash, record.CreatedAt, record.ExpiresAt)
	return err
}

// Purge deletes expired records and reports how many were removed.
func (p *PostgresStore) Purge(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM submission_records WHERE expires_at <= $1`, p.opts.now())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
