package core

import (
	"context"
	"fmt"
	"os"

	"bloodledger/internal/infra/ledger"
	"bloodledger/internal/infra/ledger/leveldb"
	"bloodledger/internal/infra/ledger/memory"
	"bloodledger/internal/infra/ledger/postgres"
	"bloodledger/internal/infra/ledger/sqlite"
	"bloodledger/pkg/domain"
)

// LedgerDriver identifies a local ledger implementation.
type LedgerDriver string

const (
	LedgerMemory   LedgerDriver = "memory"   // in-memory only (tests / ephemeral)
	LedgerSQLite   LedgerDriver = "sqlite"   // embedded sqlite file
	LedgerPostgres LedgerDriver = "postgres" // PostgreSQL server
	LedgerLevelDB  LedgerDriver = "leveldb"  // embedded LevelDB directory
)

// Environment variables read by OpenLedger.
const (
	EnvLedgerDriver = "BLOODLEDGER_LEDGER_DRIVER"
	EnvSQLitePath   = "BLOODLEDGER_SQLITE_PATH"
	EnvPostgresDSN  = "BLOODLEDGER_POSTGRES_DSN"
	EnvLevelDBPath  = "BLOODLEDGER_LEVELDB_PATH"
)

// LocalLedger is a ledger opened by this process. Close releases its files or
// connections.
type LocalLedger interface {
	domain.Ledger
	Close() error
}

type memoryLedger struct{ *memory.Store }

func (memoryLedger) Close() error { return nil }

// OpenLedger selects a backend using environment variables. Defaults to
// sqlite when unset.
//
//	BLOODLEDGER_LEDGER_DRIVER: memory|sqlite|postgres|leveldb (default sqlite)
//	BLOODLEDGER_SQLITE_PATH: path to sqlite file (default ./bloodledger.db)
//	BLOODLEDGER_POSTGRES_DSN: postgres DSN when driver=postgres
//	BLOODLEDGER_LEVELDB_PATH: LevelDB directory (default ./bloodledger.leveldb)
func OpenLedger(ctx context.Context, opts ...ledger.Option) (LocalLedger, error) {
	driver := LedgerDriver(os.Getenv(EnvLedgerDriver))
	if driver == "" {
		driver = LedgerSQLite
	}
	var (
		l   LocalLedger
		err error
	)
	switch driver {
	case LedgerMemory:
		return memoryLedger{memory.NewStore(opts...)}, nil
	case LedgerSQLite:
		l, err = sqlite.NewStore(os.Getenv(EnvSQLitePath), opts...)
	case LedgerPostgres:
		l, err = postgres.NewStore(ctx, os.Getenv(EnvPostgresDSN), opts...)
	case LedgerLevelDB:
		l, err = leveldb.NewStore(os.Getenv(EnvLevelDBPath), opts...)
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s ledger: %w", driver, err)
	}
	return l, nil
}
