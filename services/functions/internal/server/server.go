// Package server serves the project's edge functions over HTTP.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"supashowcase/internal/ratelimit"
	"supashowcase/internal/usertoken"
	"supashowcase/internal/util"
	"supashowcase/pkg/storage"
	"supashowcase/pkg/supabase"
)

const (
	helloWorld = "hello-world"
	signedURL  = "signed-url"

	maxBodyBytes = 64 << 10
)

// Config wires dependencies for the functions server. Platform and Signer
// may be nil when the platform is not configured; Verifier and Limiter are
// optional.
type Config struct {
	Platform       *supabase.Client
	Signer         storage.Signer
	Verifier       *usertoken.Verifier
	Limiter        *ratelimit.Limiter
	TrustedProxies *util.TrustedProxies
	Now            func() time.Time
}

// Server exposes the edge functions.
type Server struct {
	platform       *supabase.Client
	signer         storage.Signer
	verifier       *usertoken.Verifier
	limiter        *ratelimit.Limiter
	trustedProxies *util.TrustedProxies
	now            func() time.Time
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	signer := cfg.Signer
	if signer == nil && cfg.Platform != nil {
		signer = storage.PlatformSigner{Client: cfg.Platform}
	}
	s := &Server{
		platform:       cfg.Platform,
		signer:         signer,
		verifier:       cfg.Verifier,
		limiter:        cfg.Limiter,
		trustedProxies: cfg.TrustedProxies,
		now:            now,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("functions", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	// Functions answer both on the platform path and bare, as the platform
	// runtime strips its prefix.
	for name, h := range map[string]http.HandlerFunc{
		helloWorld: s.handleHelloWorld,
		signedURL:  s.handleSignedURL,
	} {
		handler := s.postOnly(s.withRateLimit(name, h))
		s.mux.Handle("/functions/v1/"+name, handler)
		s.mux.Handle("/"+name, handler)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) postOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed. Use POST.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRateLimit(rule string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		ip := util.ClientIP(r, s.trustedProxies)
		d := s.limiter.Allow(r.Context(), rule, ip)
		if !d.Allowed {
			util.LoggerFromContext(r.Context()).Warn("function rate limited", "function", rule, "ip", ip)
			secs := int(d.RetryAfter.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, http.StatusTooManyRequests, "Too many requests. Try again later.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// readBody decodes a JSON request body into a generic value.
func readBody(w http.ResponseWriter, r *http.Request) (any, error) {
	var body any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	return body, nil
}

// stringField returns body[key] trimmed when body is an object and the
// value is a string.
func stringField(body any, key string) string {
	obj, ok := body.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}
