package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/npezzotti/go-pollchat/internal/database"
)

func migrateCmd(f *flags) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply schema migrations to the postgres or sqlite store",
		Flags: storeFlags(f),
		Action: func(ctx context.Context, c *cli.Command) error {
			return migrate(f.cfg.Store, f.cfg.DatabaseDSN, f.cfg.SQLitePath)
		},
	}
}

func migrate(store, dsn, sqlitePath string) error {
	var err error
	switch store {
	case database.DriverPostgres:
		err = database.MigratePostgres(dsn)
	case database.DriverSQLite:
		err = database.MigrateSQLite(sqlitePath)
	default:
		return fmt.Errorf("store %q has no schema migrations", store)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", store, err)
	}

	log.Info().Str("store", store).Msg("migrations applied")
	return nil
}
