// Package sqlite provides an embedded ledger persisted to a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"bloodledger/internal/infra/ledger"
	"bloodledger/internal/infra/ledger/selector"
	"bloodledger/pkg/domain"
)

// DefaultPath is used when NewStore is given an empty path.
const DefaultPath = "bloodledger.db"

var (
	_ domain.Ledger  = (*Store)(nil)
	_ ledger.Backend = (*backend)(nil)
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS world_state (
		key BLOB PRIMARY KEY,
		value BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS key_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		key BLOB NOT NULL,
		tx_id TEXT NOT NULL,
		ts INTEGER NOT NULL,
		is_delete INTEGER NOT NULL,
		value BLOB
	)`,
	`CREATE INDEX IF NOT EXISTS key_history_key ON key_history(key, seq)`,
}

// Store is a ledger whose world state and key history live in SQLite.
type Store struct {
	*ledger.Runner
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the ledger file at path.
func NewStore(path string, opts ...ledger.Option) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY between
	// the commit transaction and concurrent readers.
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &Store{Runner: ledger.NewRunner(&backend{db: db}, opts...), db: db, path: path}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

type backend struct {
	db *sql.DB
}

func (b *backend) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx, `SELECT value FROM world_state WHERE key = ?`, []byte(key)).Scan(&value)
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
	prefix := p.KeyPrefix()
	query := `SELECT key, value FROM world_state`
	var args []any
	switch end := ledger.PrefixEnd(prefix); {
	case prefix == "":
	case end == "":
		query += ` WHERE key >= ?`
		args = append(args, []byte(prefix))
	default:
		query += ` WHERE key >= ? AND key < ?`
		args = append(args, []byte(prefix), []byte(end))
	}
	rows, err := b.db.QueryContext(ctx, query+` ORDER BY key`, args...)
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

func (b *backend) History(ctx context.Context, key string) ([]domain.KeyModification, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT tx_id, ts, is_delete, value FROM key_history WHERE key = ? ORDER BY seq`, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.KeyModification
	for rows.Next() {
		var (
			m        domain.KeyModification
			ts       int64
			isDelete int
		)
		if err := rows.Scan(&m.TxID, &ts, &isDelete, &m.Value); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		m.Timestamp = time.Unix(0, ts).UTC()
		m.IsDelete = isDelete != 0
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
	ts := set.Timestamp.UnixNano()
	for _, w := range set.Writes {
		key := []byte(w.Key)
		var value []byte
		isDelete := 0
		if w.Delete {
			isDelete = 1
			if _, err := tx.ExecContext(ctx, `DELETE FROM world_state WHERE key = ?`, key); err != nil {
				return fmt.Errorf("delete %q: %w", w.Key, err)
			}
		} else {
			value = w.Value
			if value == nil {
				value = []byte{}
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO world_state(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value); err != nil {
				return fmt.Errorf("upsert %q: %w", w.Key, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO key_history(key, tx_id, ts, is_delete, value) VALUES(?, ?, ?, ?, ?)`, key, set.TxID, ts, isDelete, value); err != nil {
			return fmt.Errorf("append history %q: %w", w.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
