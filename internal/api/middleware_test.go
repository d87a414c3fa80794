package api

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/npezzotti/go-pollchat/internal/stats"
	"github.com/npezzotti/go-pollchat/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestErrorHandler_PanicRecovery(t *testing.T) {
	buf := &bytes.Buffer{}
	app := &GoChatApp{
		log: zerolog.New(buf),
	}

	// handler that panics
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(panicHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
	assert.Contains(t, buf.String(), "test panic")
}

func Test_errorHandler_NoPanic(t *testing.T) {
	app := &GoChatApp{log: testutil.TestLogger(t)}

	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(okHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.True(t, called, "expected handler to be called")
}

func Test_authMiddleware(t *testing.T) {
	buf := &bytes.Buffer{}
	app := &GoChatApp{
		log:        zerolog.New(buf).Level(zerolog.DebugLevel),
		signingKey: []byte("test-signing-key"),
	}

	tokenHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := UserId(r.Context())
		if !ok {
			return
		}
		username, _ := Username(r.Context())
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(id + ":" + username))
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := app.createJwtForSession(sessionClaims{UserId: "u1", Username: "alice"}, defaultJwtExpiration)
		if err != nil {
			t.Fatalf("failed to create jwt token: %v", err)
		}

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(createJwtCookie(token, defaultJwtExpiration))
		handler := app.authMiddleware(tokenHandler)
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "u1:alice", rr.Body.String())
		assert.Equal(t, "no-store, no-cache, must-revalidate, private", rr.Header().Get("Cache-Control"))
	})

	t.Run("missing token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		handler := app.authMiddleware(tokenHandler)
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)

		req.AddCookie(&http.Cookie{
			Name:  tokenCookieKey,
			Value: "invalid-token",
		})
		handler := app.authMiddleware(tokenHandler)
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, buf.String(), "failed to extract claims from token")
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := app.createJwtForSession(sessionClaims{UserId: "u1", Username: "alice"}, -defaultJwtExpiration)
		if err != nil {
			t.Fatalf("failed to create jwt token: %v", err)
		}

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: token})
		app.authMiddleware(tokenHandler).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func Test_checkClaimedUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	withSession := req.WithContext(WithUsername(req.Context(), "alice"))

	t.Run("sessions not enforced", func(t *testing.T) {
		app := &GoChatApp{}
		assert.Nil(t, app.checkClaimedUser(req, "anyone"))
	})

	t.Run("sessions enforced", func(t *testing.T) {
		app := &GoChatApp{requireSession: true}

		assert.Nil(t, app.checkClaimedUser(withSession, "alice"))
		assert.Equal(t, http.StatusForbidden, app.checkClaimedUser(withSession, "bob").StatusCode)
		assert.Equal(t, http.StatusUnauthorized, app.checkClaimedUser(req, "alice").StatusCode)
	})
}

func Test_metrics(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("ObserveRequest", http.MethodGet, "unmatched", http.StatusTeapot, mock.Anything).Return().Once()
	defer su.AssertExpectations(t)

	app := &GoChatApp{log: testutil.TestLogger(t), stats: su}
	handler := app.metrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/teapot", nil))

	assert.Equal(t, http.StatusTeapot, rr.Code)
}

func Test_metrics_routePattern(t *testing.T) {
	su := newTestStats()
	app := newTestApp(t, nil)
	app.stats = su

	app.do(t, http.MethodGet, "/api/typing?username=alice", nil)

	su.AssertCalled(t, "ObserveRequest", http.MethodGet, "/api/typing", http.StatusOK, mock.Anything)
}
