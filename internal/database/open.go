package database

import (
	"context"
	"fmt"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
	DriverBadger   = "badger"
)

// DefaultSQLitePath is where the default store keeps its file, relative to
// the working directory.
const DefaultSQLitePath = "data/pollchat.db"

type Options struct {
	Driver        string
	PostgresDSN   string
	SQLitePath    string
	MongoURI      string
	MongoDatabase string
	BadgerPath    string
}

// Open returns the repository selected by opts.Driver. Postgres migrations
// are applied before the connection is handed out; sqlite migrates on open.
// Only DriverMemory loses messages on restart and must be asked for.
func Open(ctx context.Context, opts Options) (GoChatRepository, error) {
	switch opts.Driver {
	case DriverMemory:
		return NewMemoryGoChatRepository(), nil
	case DriverPostgres:
		if err := MigratePostgres(opts.PostgresDSN); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return NewPgGoChatRepository(ctx, opts.PostgresDSN)
	case DriverSQLite:
		return NewSQLiteGoChatRepository(ctx, opts.SQLitePath)
	case DriverMongo:
		return NewMongoGoChatRepository(ctx, opts.MongoURI, opts.MongoDatabase)
	case DriverBadger:
		return NewBadgerGoChatRepository(opts.BadgerPath)
	case "":
		return nil, fmt.Errorf("store driver is required")
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
