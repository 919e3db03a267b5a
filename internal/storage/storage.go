// Package storage selects the document store backend from configuration.
package storage

import (
	"context"
	"fmt"
	"os"

	"docsession/internal/infra/persistence/badger"
	"docsession/internal/infra/persistence/memory"
	"docsession/internal/infra/persistence/postgres"
	"docsession/internal/infra/persistence/sqlite"
	"docsession/pkg/document"
)

// Driver identifies a concrete document store implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory only (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
	DriverBadger   Driver = "badger"   // embedded badger key-value store
)

// Options carries the per-driver connection settings.
type Options struct {
	Driver      Driver
	SQLitePath  string // file path when driver=sqlite
	PostgresDSN string // connection string when driver=postgres
	BadgerPath  string // directory when driver=badger; empty means in-memory
}

// OptionsFromEnv reads the driver selection from environment variables.
// Defaults to sqlite when unset.
//
//	DOCSESSION_STORAGE_DRIVER: memory|sqlite|postgres|badger (default sqlite)
//	DOCSESSION_SQLITE_PATH: path to sqlite file (default ./docsession.db)
//	DOCSESSION_POSTGRES_DSN: postgres DSN when driver=postgres
//	DOCSESSION_BADGER_PATH: badger directory when driver=badger
func OptionsFromEnv() Options {
	driver := Driver(os.Getenv("DOCSESSION_STORAGE_DRIVER"))
	if driver == "" {
		driver = DriverSQLite
	}
	return Options{
		Driver:      driver,
		SQLitePath:  os.Getenv("DOCSESSION_SQLITE_PATH"),
		PostgresDSN: os.Getenv("DOCSESSION_POSTGRES_DSN"),
		BadgerPath:  os.Getenv("DOCSESSION_BADGER_PATH"),
	}
}

// Open constructs the store selected by opts.
func Open(ctx context.Context, opts Options) (document.Store, error) {
	switch opts.Driver {
	case DriverMemory:
		return memory.NewStore(), nil
	case DriverSQLite:
		return sqlite.NewStore(opts.SQLitePath)
	case DriverPostgres:
		return postgres.NewStore(ctx, opts.PostgresDSN)
	case DriverBadger:
		return badger.NewStore(opts.BadgerPath)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", opts.Driver)
	}
}
