package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// DefaultSQLTable is the table SQLStorage uses when none is configured.
const DefaultSQLTable = "dashboard_session_state"

// SQLStorage keeps keys as rows of a PostgreSQL table, partitioned by
// namespace so several dashboard profiles can share one database.
type SQLStorage struct {
	db        *sql.DB
	namespace string

	selectQ string
	upsertQ string
	deleteQ string
	schemaQ string
}

// OpenPostgres opens a database handle using the lib/pq driver.
func OpenPostgres(dsn string) (*sql.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

func NewSQLStorage(db *sql.DB, table, namespace string) (*SQLStorage, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	table = strings.TrimSpace(table)
	if table == "" {
		table = DefaultSQLTable
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = "default"
	}

	t := pq.QuoteIdentifier(table)
	return &SQLStorage{
		db:        db,
		namespace: namespace,
		selectQ:   fmt.Sprintf(`SELECT value FROM %s WHERE namespace = $1 AND key = $2`, t),
		upsertQ: fmt.Sprintf(`INSERT INTO %s (namespace, key, value, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, t),
		deleteQ: fmt.Sprintf(`DELETE FROM %s WHERE namespace = $1 AND key = ANY($2)`, t),
		schemaQ: fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (namespace, key)
)`, t),
	}, nil
}

// EnsureSchema creates the backing table if it does not exist.
func (s *SQLStorage) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.schemaQ); err != nil {
		return fmt.Errorf("ensure session state schema: %w", err)
	}
	return nil
}

func (s *SQLStorage) Get(ctx context.Context, key string) (string, bool, error) {
	if err := validateKeys(key); err != nil {
		return "", false, err
	}
	var v string
	err := s.db.QueryRowContext(ctx, s.selectQ, s.namespace, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query session state %s: %w", key, err)
	}
	return v, true, nil
}

func (s *SQLStorage) Set(ctx context.Context, key, value string) error {
	if err := validateKeys(key); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.upsertQ, s.namespace, key, value); err != nil {
		return fmt.Errorf("upsert session state %s: %w", key, err)
	}
	return nil
}

func (s *SQLStorage) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := validateKeys(keys...); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.deleteQ, s.namespace, pq.Array(keys)); err != nil {
		return fmt.Errorf("delete session state: %w", err)
	}
	return nil
}
