package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npezzotti/go-pollchat/internal/config"
	"github.com/npezzotti/go-pollchat/internal/database"
	"github.com/npezzotti/go-pollchat/internal/feed"
	"github.com/npezzotti/go-pollchat/internal/presence"
	"github.com/npezzotti/go-pollchat/internal/server"
	"github.com/npezzotti/go-pollchat/internal/stats"
	"github.com/npezzotti/go-pollchat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testApp struct {
	*GoChatApp
	repo    database.GoChatRepository
	tracker *presence.MemoryTracker
}

type testAppOption func(cfg *config.Config)

func withRequiredSession(cfg *config.Config) {
	cfg.RequireSession = true
}

func newTestStats() *stats.MockStatsUpdater {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return()
	su.On("Incr", mock.Anything).Return()
	su.On("Decr", mock.Anything).Return()
	su.On("ObserveRequest", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()
	return su
}

func newTestConfig() *config.Config {
	return &config.Config{
		ServerAddr:     "localhost:8080",
		Store:          database.DriverMemory,
		Presence:       "memory",
		TypingExpiry:   presence.DefaultExpiry,
		SigningKey:     []byte("test-signing-key"),
		AllowedOrigins: []string{"http://localhost:3000"},
	}
}

// newTestApp wires an app over in-memory stores, or over repo when given
func newTestApp(t *testing.T, repo database.GoChatRepository, opts ...testAppOption) *testApp {
	t.Helper()

	if repo == nil {
		repo = database.NewMemoryGoChatRepository()
	}

	cfg := newTestConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	logger := testutil.TestLogger(t)
	su := newTestStats()
	fs := feed.NewService(feed.NewLog(repo), logger, su)
	tr := presence.NewMemoryTracker(presence.DefaultExpiry)

	cs, err := server.NewChatServer(logger, fs, tr, su)
	require.NoError(t, err)
	go cs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})

	return &testApp{
		GoChatApp: NewGoChatApp(logger, repo, fs, tr, cs, su, cfg),
		repo:      repo,
		tracker:   tr,
	}
}

func (a *testApp) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), "expected a JSON body, got %q", rr.Body.String())
	return v
}

func TestNewGoChatApp(t *testing.T) {
	logger := testutil.TestLogger(t)
	db := &database.MockGoChatRepository{}
	su := newTestStats()
	fs := feed.NewService(feed.NewLog(db), logger, su)
	tr := presence.NewMemoryTracker(0)
	cfg := newTestConfig()

	app := NewGoChatApp(logger, db, fs, tr, nil, su, cfg)

	assert.NotNil(t, app, "expected app to be initialized")
	assert.NotNil(t, app.srv, "expected http server to be initialized")
	assert.Equal(t, db, app.db, "expected db to be set")
	assert.Equal(t, fs, app.feed, "expected feed service to be set")
	assert.Equal(t, tr, app.presence, "expected presence tracker to be set")
	assert.Nil(t, app.cs, "expected no chat server")
	assert.Equal(t, cfg.SigningKey, app.signingKey, "expected signing key to be set")
	assert.Equal(t, cfg.AllowedOrigins, app.allowedOrigins, "expected allowed origins to be set")
	assert.Equal(t, cfg.ServerAddr, app.srv.Addr, "expected server address to match config")
	assert.Equal(t, 10*time.Second, app.srv.ReadHeaderTimeout)

	rr := httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws?username=alice", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code, "expected no websocket route without a chat server")
}

func TestGoChatApp_metricsEndpoint(t *testing.T) {
	logger := testutil.TestLogger(t)
	repo := database.NewMemoryGoChatRepository()
	su := stats.NewStatsUpdater()
	fs := feed.NewService(feed.NewLog(repo), logger, su)

	app := NewGoChatApp(logger, repo, fs, presence.NewMemoryTracker(0), nil, su, newTestConfig())

	rr := httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `pollchat_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
	assert.Contains(t, rr.Body.String(), "pollchat_messages_posted 0")
}

func TestGoChatApp_cors(t *testing.T) {
	app := newTestApp(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
}
