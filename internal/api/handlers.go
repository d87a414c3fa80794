package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-pollchat/internal/chaterr"
	"github.com/npezzotti/go-pollchat/internal/database"
	"github.com/npezzotti/go-pollchat/internal/server"
	"github.com/npezzotti/go-pollchat/internal/types"
)

const maxBodySize = 8 * 1024

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest reports the first rejected field of v.
func validateRequest(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	if fe.Tag() == "required" {
		return chaterr.Required(fe.Field())
	}
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()),
		Err:        err,
	}
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

func (s *GoChatApp) writeError(w http.ResponseWriter, err error) {
	errResp := errorResponse(err)
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Error().Err(err).Int("status", errResp.StatusCode).Msg("request failed")
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func readJson(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return NewBadRequestError()
	}
	return nil
}

func (s *GoChatApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req types.Credentials
	if err := readJson(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if err := validateRequest(req); err != nil {
		s.writeError(w, err)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	newUser, err := s.db.CreateAccount(r.Context(), database.CreateAccountParams{
		Username:     req.Username,
		PasswordHash: pwdHash,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.log.Info().Str("username", newUser.Username).Msg("account created")
	s.writeJson(w, http.StatusCreated, types.NewUser(newUser))
}

func (s *GoChatApp) login(w http.ResponseWriter, r *http.Request) {
	var req types.Credentials
	if err := readJson(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		s.writeError(w, chaterr.Required("username"))
		return
	}
	if req.Password == "" {
		s.writeError(w, chaterr.Required("password"))
		return
	}

	dbUser, err := s.db.GetAccountByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, chaterr.ErrNotFound) {
			err = chaterr.ErrAuthRejected
		}
		s.writeError(w, err)
		return
	}

	if !verifyPassword(dbUser.PasswordHash, req.Password) {
		s.writeError(w, chaterr.ErrAuthRejected)
		return
	}

	token, err := s.createJwtForSession(sessionClaims{
		UserId:   dbUser.Id,
		Username: dbUser.Username,
	}, defaultJwtExpiration)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusOK, types.NewUser(dbUser))
}

func (s *GoChatApp) session(w http.ResponseWriter, r *http.Request) {
	username, ok := Username(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	user, err := s.db.GetAccountByUsername(r.Context(), username)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, types.NewUser(user))
}

func (s *GoChatApp) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", -defaultJwtExpiration))
	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.feed.ListRecent(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, types.NewMessages(msgs))
}

func (s *GoChatApp) postMessage(w http.ResponseWriter, r *http.Request) {
	var req types.PostMessageRequest
	if err := readJson(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	if errResp := s.checkClaimedUser(r, req.Username); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	msg, err := s.feed.PostMessage(r.Context(), req.Username, req.Message)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, types.NewMessage(msg))
}

// callerName is the user a typing or websocket request acts for. With an
// enforced session it is always the session user.
func (s *GoChatApp) callerName(r *http.Request) string {
	if s.requireSession {
		username, _ := Username(r.Context())
		return username
	}
	return r.URL.Query().Get("username")
}

func (s *GoChatApp) getTyping(w http.ResponseWriter, r *http.Request) {
	active, err := s.presence.ListActive(r.Context(), s.callerName(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, types.TypingResponse{Typing: active})
}

func (s *GoChatApp) postTyping(w http.ResponseWriter, r *http.Request) {
	var req types.TypingRequest
	if err := readJson(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	if errResp := s.checkClaimedUser(r, req.Username); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	if err := s.presence.Heartbeat(r.Context(), req.Username, req.Active); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(s.callerName(r))
	if username == "" {
		s.writeError(w, chaterr.Required("username"))
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, "*") || slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("error upgrading connection")
		return
	}

	client := server.NewClient(username, conn, s.cs, s.log)
	if !s.cs.RegisterClient(client) {
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}
