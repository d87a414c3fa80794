package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-pollchat/internal/config"
	"github.com/npezzotti/go-pollchat/internal/database"
	"github.com/npezzotti/go-pollchat/internal/feed"
	"github.com/npezzotti/go-pollchat/internal/presence"
	"github.com/npezzotti/go-pollchat/internal/server"
	"github.com/npezzotti/go-pollchat/internal/stats"
	"github.com/rs/zerolog"
)

type metricsHandler interface {
	Handler() http.Handler
}

type GoChatApp struct {
	log            zerolog.Logger
	db             database.GoChatRepository
	feed           *feed.Service
	presence       presence.Tracker
	cs             *server.ChatServer
	stats          stats.StatsProvider
	signingKey     []byte
	allowedOrigins []string
	requireSession bool
	srv            *http.Server
}

// NewGoChatApp wires the HTTP routes. cs may be nil, in which case the
// websocket endpoint is not served.
func NewGoChatApp(
	logger zerolog.Logger,
	db database.GoChatRepository,
	fs *feed.Service,
	tr presence.Tracker,
	cs *server.ChatServer,
	sp stats.StatsProvider,
	cfg *config.Config,
) *GoChatApp {
	s := &GoChatApp{
		log:            logger.With().Str("component", "api").Logger(),
		db:             db,
		feed:           fs,
		presence:       tr,
		cs:             cs,
		stats:          sp,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
		requireSession: cfg.RequireSession,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.metrics)

	r.Post("/api/auth/register", s.createAccount)
	r.Post("/api/auth/login", s.login)
	r.Get("/api/auth/session", s.authMiddleware(s.session))
	r.Get("/api/auth/logout", s.authMiddleware(s.logout))

	r.Get("/api/messages", s.sessionRequired(s.getMessages))
	r.Post("/api/messages", s.sessionRequired(s.postMessage))
	r.Get("/api/typing", s.sessionRequired(s.getTyping))
	r.Post("/api/typing", s.sessionRequired(s.postTyping))
	if cs != nil {
		r.Get("/ws", s.sessionRequired(s.serveWs))
	}

	r.Get("/healthz", s.healthz)
	if mh, ok := sp.(metricsHandler); ok {
		r.Handle("/metrics", mh.Handler())
	}

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(r)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s
}

func (s *GoChatApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *GoChatApp) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting server")
	return s.srv.ListenAndServe()
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
