package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/npezzotti/go-pollchat/internal/api"
	"github.com/npezzotti/go-pollchat/internal/config"
	"github.com/npezzotti/go-pollchat/internal/database"
	"github.com/npezzotti/go-pollchat/internal/feed"
	"github.com/npezzotti/go-pollchat/internal/presence"
	"github.com/npezzotti/go-pollchat/internal/server"
	"github.com/npezzotti/go-pollchat/internal/stats"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(f *flags) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the chat server",
		Flags: append(storeFlags(f), serverFlags(f)...),
		Action: func(ctx context.Context, c *cli.Command) error {
			return serve(ctx, f.cfg)
		},
	}
}

func serve(ctx context.Context, c config.Config) error {
	cfg, err := config.NewConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.Logger

	repo, err := database.Open(ctx, storeOptions(cfg))
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Error().Err(err).Msg("db close")
		}
	}()

	var tracker presence.Tracker
	switch cfg.Presence {
	case "redis":
		rt, err := presence.NewRedisTracker(ctx, cfg.RedisURL, cfg.TypingExpiry)
		if err != nil {
			return fmt.Errorf("presence: %w", err)
		}
		defer rt.Close()
		tracker = rt
	default:
		mt := presence.NewMemoryTracker(cfg.TypingExpiry)
		go mt.Run(ctx, cfg.TypingExpiry)
		tracker = mt
	}

	statsUpdater := stats.NewStatsUpdater()
	feedService := feed.NewService(feed.NewLog(repo), logger, statsUpdater)

	chatServer, err := server.NewChatServer(logger, feedService, tracker, statsUpdater)
	if err != nil {
		return fmt.Errorf("new chat server: %w", err)
	}
	go chatServer.Run()

	srv := api.NewGoChatApp(logger, repo, feedService, tracker, chatServer, statsUpdater, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info().Msg("shutting down chat server")
	if err := chatServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("chat server shutdown: %w", err)
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

func storeOptions(cfg *config.Config) database.Options {
	return database.Options{
		Driver:        cfg.Store,
		PostgresDSN:   cfg.DatabaseDSN,
		SQLitePath:    cfg.SQLitePath,
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
		BadgerPath:    cfg.BadgerPath,
	}
}
