// Package server exposes the showcase application over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"supashowcase/internal/ratelimit"
	"supashowcase/internal/usertoken"
	"supashowcase/internal/util"
	"supashowcase/pkg/conversation"
	"supashowcase/pkg/domain"
	"supashowcase/pkg/supabase"
	"supashowcase/services/demo/internal/app"
)

const (
	ruleSignIn = "signin"
	ruleSignUp = "signup"

	maxJSONBytes   = 1 << 20
	maxUploadBytes = 8 << 20
)

// Config wires dependencies for the HTTP server. Verifier and Limiter are
// optional.
type Config struct {
	App            *app.App
	Verifier       *usertoken.Verifier
	Limiter        *ratelimit.Limiter
	TrustedProxies *util.TrustedProxies
}

// Server exposes the showcase screens as a JSON API.
type Server struct {
	app            *app.App
	verifier       *usertoken.Verifier
	limiter        *ratelimit.Limiter
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	s := &Server{
		app:            cfg.App,
		verifier:       cfg.Verifier,
		limiter:        cfg.Limiter,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("demo", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/signup", s.handleSignUp)
	s.mux.HandleFunc("/api/auth/signin", s.handleSignIn)
	s.mux.Handle("/api/auth/signout", s.authenticated(s.handleSignOut))
	s.mux.Handle("/api/auth/me", s.authenticated(s.handleMe))

	// books
	s.mux.HandleFunc("/api/books", s.handleBooks)
	s.mux.HandleFunc("/api/books/", s.handleBookByID)

	// profile
	s.mux.Handle("/api/profile", s.authenticated(s.handleProfile))
	s.mux.Handle("/api/profile/avatars", s.authenticated(s.handleAvatars))
	s.mux.Handle("/api/profile/avatar", s.authenticated(s.handleAvatar))

	// chat
	s.mux.Handle("/api/chat/recipients", s.authenticated(s.handleRecipients))
	s.mux.Handle("/api/chat/participants", s.authenticated(s.handleParticipants))
	s.mux.Handle("/api/chat/messages", s.authenticated(s.handleMessages))
	s.mux.Handle("/api/chat/stream", s.authenticated(s.handleStream))

	// edge functions
	s.mux.HandleFunc("/api/functions/hello-world", s.handleHello)
	s.mux.Handle("/api/functions/signed-url", s.authenticated(s.handleSignedURL))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(http.ResponseWriter, *http.Request, app.Viewer)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		viewer, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, viewer)
	})
}

// authorize resolves the caller. A local token check, when configured,
// runs before the platform is asked.
func (s *Server) authorize(r *http.Request) (app.Viewer, bool) {
	token, err := requestToken(r)
	if err != nil {
		s.audit(r, "demo.token.verify", "fail", "reason", "missing_token")
		return app.Viewer{}, false
	}
	if s.verifier != nil {
		if _, err := s.verifier.VerifySubject(token); err != nil {
			s.audit(r, "demo.token.verify", "fail", "reason", "invalid_signature_or_claims")
			return app.Viewer{}, false
		}
	}
	viewer, err := s.app.Identify(r.Context(), token)
	if err != nil {
		s.audit(r, "demo.token.verify", "fail", "reason", "identify_failed")
		return app.Viewer{}, false
	}
	s.audit(r, "demo.token.verify", "success", "user_id", viewer.ID)
	return viewer, true
}

// requestToken reads the bearer token. Websocket clients cannot set
// headers, so the stream also accepts an access_token query parameter.
func requestToken(r *http.Request) (string, error) {
	token, err := usertoken.BearerToken(r)
	if err == nil {
		return token, nil
	}
	if r.URL.Path == "/api/chat/stream" {
		if t := strings.TrimSpace(r.URL.Query().Get("access_token")); t != "" {
			return t, nil
		}
	}
	return "", err
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, rule, msg string) bool {
	if s.limiter == nil {
		return true
	}
	d := s.limiter.Allow(r.Context(), rule, util.ClientIP(r, s.trustedProxies))
	if d.Allowed {
		return true
	}
	secs := int(d.RetryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(v)
}

// writeAppError maps application and platform errors to responses.
// Platform replies keep their status and message.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case domain.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrConfirmationRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrSaveInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrForeignObject):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, conversation.ErrClosed):
		writeError(w, http.StatusConflict, "chat session closed")
	case errors.Is(err, supabase.ErrNoSession):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, supabase.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case supabase.StatusOf(err) != 0:
		writeError(w, supabase.StatusOf(err), err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("platform request failed", "err", err)
		writeError(w, http.StatusBadGateway, "platform unavailable")
	}
}

func logger(r *http.Request) *slog.Logger {
	return util.LoggerFromContext(r.Context())
}

// refreshing reports whether the caller asked to bypass cached data.
func refreshing(r *http.Request) bool {
	return r.URL.Query().Get("refresh") == "true"
}
