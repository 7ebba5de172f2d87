// Package postgres provides a ledger backed by PostgreSQL. Values that are JSON
// objects are mirrored into a JSONB column so selector queries can narrow the
// scan with a containment filter before matching in process.
package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"bloodledger/internal/infra/ledger"
	"bloodledger/internal/infra/ledger/selector"
	"bloodledger/pkg/domain"
)

var (
	_ domain.Ledger  = (*Store)(nil)
	_ ledger.Backend = (*backend)(nil)
)

const (
	defaultDriver = "pgx"
	// DefaultDSN is used when NewStore is given an empty DSN.
	DefaultDSN = "postgres://localhost/bloodledger?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// OverrideSQLOpen swaps the sql.Open implementation for tests and returns a restore func.
func OverrideSQLOpen(fn func(driverName, dsn string) (*sql.DB, error)) func() {
	openMu.Lock()
	prev := sqlOpen
	sqlOpen = fn
	openMu.Unlock()
	return func() {
		openMu.Lock()
		sqlOpen = prev
		openMu.Unlock()
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ledger_state (
		key BYTEA PRIMARY KEY,
		value BYTEA NOT NULL,
		doc JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS ledger_state_doc ON ledger_state USING GIN (doc jsonb_path_ops)`,
	`CREATE TABLE IF NOT EXISTS ledger_history (
		seq BIGSERIAL PRIMARY KEY,
		key BYTEA NOT NULL,
		tx_id TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		is_delete BOOLEAN NOT NULL,
		value BYTEA
	)`,
	`CREATE INDEX IF NOT EXISTS ledger_history_key ON ledger_history (key, seq)`,
}

// Store is a ledger persisted in PostgreSQL.
type Store struct {
	*ledger.Runner
	db *sql.DB
}

// NewStore connects to dsn (falls back to DefaultDSN) and ensures the schema exists.
func NewStore(ctx context.Context, dsn string, opts ...ledger.Option) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &Store{Runner: ledger.NewRunner(&backend{db: db}, opts...), db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

type backend struct {
	db *sql.DB
}

func (b *backend) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx, `SELECT value FROM ledger_state WHERE key = $1`, []byte(key)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

func (b *backend) Scan(ctx context.Context, p *selector.Program) ([]domain.KV, error) {
	query, args, err := scanQuery(p)
	if err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.KV
	for rows.Next() {
		var key, value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, domain.KV{Key: string(key), Value: value})
	}
	return out, rows.Err()
}

// scanQuery narrows the scan by key range and by JSONB containment of the
// selector's non-null equalities. Rows without a doc are always returned.
func scanQuery(p *selector.Program) (string, []any, error) {
	query := `SELECT key, value FROM ledger_state WHERE TRUE`
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if prefix := p.KeyPrefix(); prefix != "" {
		query += ` AND key >= ` + next([]byte(prefix))
		if end := ledger.PrefixEnd(prefix); end != "" {
			query += ` AND key < ` + next([]byte(end))
		}
	}
	contains := map[string]any{}
	for field, value := range p.Equalities() {
		if value != nil {
			contains[field] = value
		}
	}
	if len(contains) > 0 {
		doc, err := json.Marshal(contains)
		if err != nil {
			return "", nil, fmt.Errorf("encode containment filter: %w", err)
		}
		query += ` AND (doc IS NULL OR doc @> ` + next(string(doc)) + `::jsonb)`
	}
	return query + ` ORDER BY key`, args, nil
}

func (b *backend) History(ctx context.Context, key string) ([]domain.KeyModification, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT tx_id, ts, is_delete, value FROM ledger_history WHERE key = $1 ORDER BY seq`, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.KeyModification
	for rows.Next() {
		var (
			m  domain.KeyModification
			ts time.Time
		)
		if err := rows.Scan(&m.TxID, &ts, &m.IsDelete, &m.Value); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		m.Timestamp = ts.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (b *backend) Commit(ctx context.Context, set ledger.CommitSet) (retErr error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, w := range set.Writes {
		key := []byte(w.Key)
		var value []byte
		if w.Delete {
			if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_state WHERE key = $1`, key); err != nil {
				return fmt.Errorf("delete %q: %w", w.Key, err)
			}
		} else {
			value = w.Value
			if value == nil {
				value = []byte{}
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO ledger_state(key, value, doc) VALUES($1, $2, $3::jsonb)
				ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, doc = EXCLUDED.doc`,
				key, value, jsonDoc(value)); err != nil {
				return fmt.Errorf("upsert %q: %w", w.Key, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_history(key, tx_id, ts, is_delete, value) VALUES($1, $2, $3, $4, $5)`,
			key, set.TxID, set.Timestamp, w.Delete, value); err != nil {
			return fmt.Errorf("append history %q: %w", w.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// jsonDoc returns value as a JSONB parameter, or nil when PostgreSQL could not
// store it: non-objects and strings carrying \u0000.
func jsonDoc(value []byte) any {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil
	}
	if bytes.Contains(trimmed, []byte(`\u0000`)) {
		return nil
	}
	return string(trimmed)
}
