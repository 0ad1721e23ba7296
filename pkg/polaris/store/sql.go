package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// dialect captures the SQL differences between backends.
type dialect struct {
	name   string
	schema string
	load   string
	upsert string
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: `CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	load: `SELECT value FROM kv WHERE key = ?`,
	upsert: `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
}

var postgresDialect = dialect{
	name: "postgresql",
	schema: `CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	load: `SELECT value::text FROM kv WHERE key = $1`,
	upsert: `INSERT INTO kv (key, value, updated_at) VALUES ($1, $2::jsonb, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
}

// SQLStore is a document store over a single kv table.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		return nil, fmt.Errorf("create %s kv table: %w", d.name, err)
	}
	return &SQLStore{db: db, dialect: d}, nil
}

// DB exposes the underlying connection pool.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Load(ctx context.Context, key string) (Data, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	var raw string
	err := s.db.QueryRowContext(ctx, s.dialect.load, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Data{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	data, err := Decode([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return data, nil
}

func (s *SQLStore) Save(ctx context.Context, key string, data Data) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	raw, err := Encode(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.upsert, key, string(raw), time.Now().UTC()); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

var _ Store = (*SQLStore)(nil)
