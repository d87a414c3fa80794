package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/npezzotti/go-pollchat/internal/config"
	"github.com/npezzotti/go-pollchat/internal/database"
	"github.com/npezzotti/go-pollchat/internal/presence"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
)

type flags struct {
	cfg       config.Config
	logLevel  string
	logFormat string

	serverURL string
	username  string
	password  string
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	if err := setupLogger("info", "console", os.Stderr); err != nil {
		panic(err)
	}

	f := &flags{}

	app := &cli.Command{
		Name:    "pollchat",
		Usage:   "Run or talk to a polling chat server",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("LOG_LEVEL"),
				Value:       "info",
				Destination: &f.logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "log format (console, json)",
				Sources:     cli.EnvVars("LOG_FORMAT"),
				Value:       "console",
				Destination: &f.logFormat,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			return ctx, setupLogger(f.logLevel, f.logFormat, os.Stderr)
		},
		Commands: []*cli.Command{
			serveCmd(f),
			migrateCmd(f),
			sendCmd(f),
			tailCmd(f),
		},
	}
	app.DefaultCommand = "serve"

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("pollchat")
	}
}

func setupLogger(level, format string, out io.Writer) error {
	parsedLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	switch format {
	case "json":
	case "console", "":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger().Level(parsedLevel)
	return nil
}

// storeFlags select and locate the message and account store.
func storeFlags(f *flags) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "store",
			Usage:       "store backend (sqlite, postgres, mongo, badger, or memory which loses messages on restart)",
			Sources:     cli.EnvVars("STORE"),
			Value:       database.DriverSQLite,
			Destination: &f.cfg.Store,
		},
		&cli.StringFlag{
			Name:        "dsn",
			Usage:       "postgres connection string",
			Sources:     cli.EnvVars("DATABASE_DSN"),
			Destination: &f.cfg.DatabaseDSN,
		},
		&cli.StringFlag{
			Name:        "sqlite-path",
			Usage:       "sqlite database file",
			Sources:     cli.EnvVars("SQLITE_PATH"),
			Value:       database.DefaultSQLitePath,
			Destination: &f.cfg.SQLitePath,
		},
		&cli.StringFlag{
			Name:        "mongo-uri",
			Usage:       "mongodb connection uri",
			Sources:     cli.EnvVars("MONGO_URI"),
			Destination: &f.cfg.MongoURI,
		},
		&cli.StringFlag{
			Name:        "mongo-database",
			Usage:       "mongodb database name",
			Sources:     cli.EnvVars("MONGO_DATABASE"),
			Value:       "pollchat",
			Destination: &f.cfg.MongoDatabase,
		},
		&cli.StringFlag{
			Name:        "badger-path",
			Usage:       "badger data directory",
			Sources:     cli.EnvVars("BADGER_PATH"),
			Destination: &f.cfg.BadgerPath,
		},
	}
}

func serverFlags(f *flags) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "server address",
			Sources:     cli.EnvVars("ADDR"),
			Value:       "localhost:8000",
			Destination: &f.cfg.ServerAddr,
		},
		&cli.StringFlag{
			Name:        "presence",
			Usage:       "typing tracker (memory, redis)",
			Sources:     cli.EnvVars("PRESENCE"),
			Value:       "memory",
			Destination: &f.cfg.Presence,
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Usage:       "redis url for the shared typing tracker",
			Sources:     cli.EnvVars("REDIS_URL"),
			Destination: &f.cfg.RedisURL,
		},
		&cli.DurationFlag{
			Name:        "typing-expiry",
			Usage:       "how long a typing heartbeat stays valid",
			Sources:     cli.EnvVars("TYPING_EXPIRY"),
			Value:       presence.DefaultExpiry,
			Destination: &f.cfg.TypingExpiry,
		},
		&cli.StringFlag{
			Name:        "signing-key",
			Usage:       "base64 encoded session signing key",
			Sources:     cli.EnvVars("SIGNING_KEY"),
			Value:       defaultSigningKey,
			Destination: &f.cfg.SigningSecret,
		},
		&cli.StringSliceFlag{
			Name:        "allowed-origins",
			Usage:       "allowed origins for CORS and websocket upgrades",
			Sources:     cli.EnvVars("ALLOWED_ORIGINS"),
			Destination: &f.cfg.AllowedOrigins,
		},
		&cli.BoolFlag{
			Name:        "require-session",
			Usage:       "bind message and typing requests to the logged in user",
			Sources:     cli.EnvVars("REQUIRE_SESSION"),
			Destination: &f.cfg.RequireSession,
		},
	}
}

// clientFlags configure the send and tail commands.
func clientFlags(f *flags) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "url",
			Usage:       "chat server base url",
			Sources:     cli.EnvVars("POLLCHAT_URL"),
			Value:       "http://localhost:8000",
			Destination: &f.serverURL,
		},
		&cli.StringFlag{
			Name:        "username",
			Aliases:     []string{"u"},
			Usage:       "user to act as",
			Sources:     cli.EnvVars("POLLCHAT_USERNAME"),
			Required:    true,
			Destination: &f.username,
		},
		&cli.StringFlag{
			Name:        "password",
			Usage:       "log in before talking to the server",
			Sources:     cli.EnvVars("POLLCHAT_PASSWORD"),
			Destination: &f.password,
		},
	}
}
