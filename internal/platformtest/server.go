// Package platformtest runs an in-memory stand-in for the hosted platform:
// a PostgREST subset, password auth, object storage, a realtime socket and
// pluggable edge functions. It exists for tests only.
package platformtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	AnonKey   = "test-anon-key"
	JWTSecret = "test-jwt-secret-with-enough-bytes"

	timeLayout = "2006-01-02T15:04:05.000000Z07:00"
	tokenTTL   = time.Hour
)

// Row is a stored table row.
type Row map[string]any

type user struct {
	ID       string
	Email    string
	Password string
	Metadata map[string]any
	Created  time.Time
}

type object struct {
	Data        []byte
	ContentType string
	Created     time.Time
}

type fault struct {
	method string
	prefix string
	status int
	msg    string
}

// Server is a fake platform project.
type Server struct {
	*httptest.Server

	// AutoConfirm makes sign-up return a session. Defaults to true.
	AutoConfirm bool

	requests atomic.Int64

	mu       sync.Mutex
	tables   map[string][]Row
	nextID   map[string]int64
	users    map[string]*user // by email
	revoked  map[string]bool
	objects  map[string]map[string]object
	funcs    map[string]http.Handler
	faults   []fault
	lastTime time.Time

	rt *realtimeHub
}

// New starts a fake platform and stops it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		AutoConfirm: true,
		tables:      map[string][]Row{},
		nextID:      map[string]int64{},
		users:       map[string]*user{},
		revoked:     map[string]bool{},
		objects:     map[string]map[string]object{},
		funcs:       map[string]http.Handler{},
		rt:          newRealtimeHub(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/{table}", s.handleRest)
	mux.HandleFunc("POST /auth/v1/signup", s.handleSignUp)
	mux.HandleFunc("POST /auth/v1/token", s.handleToken)
	mux.HandleFunc("POST /auth/v1/logout", s.handleLogout)
	mux.HandleFunc("/auth/v1/user", s.handleUser)
	mux.HandleFunc("POST /storage/v1/object/list/{bucket}", s.handleList)
	mux.HandleFunc("POST /storage/v1/object/sign/{bucket}/{path...}", s.handleSign)
	mux.HandleFunc("GET /storage/v1/object/public/{bucket}/{path...}", s.handlePublic)
	mux.HandleFunc("POST /storage/v1/object/{bucket}/{path...}", s.handleUpload)
	mux.HandleFunc("DELETE /storage/v1/object/{bucket}", s.handleRemove)
	mux.HandleFunc("/functions/v1/{name}", s.handleFunction)
	mux.HandleFunc("/realtime/v1/websocket", s.handleRealtime)
	s.Server = httptest.NewServer(s.gate(mux))
	t.Cleanup(func() {
		s.rt.closeAll()
		s.Close()
	})
	return s
}

// Requests returns how many API calls the server has received.
func (s *Server) Requests() int64 { return s.requests.Load() }

// Fail makes the next request whose method and path prefix match reply with
// status and msg.
func (s *Server) Fail(method, pathPrefix string, status int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, fault{method: method, prefix: pathPrefix, status: status, msg: msg})
}

// HandleFunction serves h as the edge function name. h sees the request
// path without the /functions/v1 prefix.
func (s *Server) HandleFunction(name string, h http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funcs[name] = http.StripPrefix("/functions/v1", h)
}

// Rows returns a copy of the rows stored in table.
func (s *Server) Rows(table string) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Row, 0, len(s.tables[table]))
	for _, r := range s.tables[table] {
		out = append(out, copyRow(r))
	}
	return out
}

// Insert stores a row directly, filling id and created_at when absent.
func (s *Server) Insert(table string, row Row) Row {
	s.mu.Lock()
	stored := s.insertLocked(table, row)
	s.mu.Unlock()
	s.rt.broadcast(table, "INSERT", stored)
	return copyRow(stored)
}

// Object returns a stored object's bytes.
func (s *Server) Object(bucket, path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[bucket][path]
	return obj.Data, ok
}

// PutObject stores an object directly.
func (s *Server) PutObject(bucket, path string, data []byte, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects[bucket] == nil {
		s.objects[bucket] = map[string]object{}
	}
	s.objects[bucket][path] = object{Data: data, ContentType: contentType, Created: s.nowLocked()}
}

// CreateUser registers an account and returns its id and a valid token.
func (s *Server) CreateUser(t testing.TB, email, password string) (string, string) {
	t.Helper()
	s.mu.Lock()
	u, err := s.createUserLocked(email, password, nil)
	s.mu.Unlock()
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := s.issueToken(u)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return u.ID, token
}

// Token mints an access token for an arbitrary subject.
func (s *Server) Token(sub, email string, ttl time.Duration) string {
	claims := jwt.MapClaims{
		"sub":   sub,
		"email": email,
		"role":  "authenticated",
		"aud":   "authenticated",
		"iss":   s.URL + "/auth/v1",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(ttl).Unix(),
	}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(JWTSecret))
	return token
}

// WaitSubscribers blocks until table has n joined realtime channels.
func (s *Server) WaitSubscribers(t testing.TB, table string, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.rt.count(table) >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d realtime subscribers on %s, got %d", n, table, s.rt.count(table))
}

// DropRealtime closes every open realtime connection, as a network drop would.
func (s *Server) DropRealtime() { s.rt.closeAll() }

// gate checks the api key, counts requests and applies injected faults.
func (s *Server) gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		key := r.Header.Get("apikey")
		if key == "" {
			key = r.URL.Query().Get("apikey")
		}
		if key != AnonKey && !strings.HasPrefix(r.URL.Path, "/storage/v1/object/public/") {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid API key"})
			return
		}
		if f, ok := s.takeFault(r); ok {
			writeJSON(w, f.status, map[string]any{"code": fmt.Sprint(f.status), "message": f.msg, "error": f.msg})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) takeFault(r *http.Request) (fault, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range s.faults {
		if (f.method == "" || f.method == r.Method) && strings.HasPrefix(r.URL.Path, f.prefix) {
			s.faults = append(s.faults[:i], s.faults[i+1:]...)
			return f, true
		}
	}
	return fault{}, false
}

// caller resolves the bearer token to a user; anon key callers are nil.
func (s *Server) caller(r *http.Request) (*user, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if raw == "" || raw == AnonKey {
		return nil, nil
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return []byte(JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked[raw] {
		return nil, errors.New("session revoked")
	}
	sub, _ := claims["sub"].(string)
	for _, u := range s.users {
		if u.ID == sub {
			return u, nil
		}
	}
	return nil, errors.New("user not found")
}

func (s *Server) createUserLocked(email, password string, meta map[string]any) (*user, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, errors.New("email and password required")
	}
	if _, ok := s.users[email]; ok {
		return nil, errors.New("User already registered")
	}
	u := &user{ID: uuid.NewString(), Email: email, Password: password, Metadata: meta, Created: s.nowLocked()}
	s.users[email] = u
	return u, nil
}

func (s *Server) issueToken(u *user) (string, error) {
	claims := jwt.MapClaims{
		"sub":   u.ID,
		"email": u.Email,
		"role":  "authenticated",
		"aud":   "authenticated",
		"iss":   s.URL + "/auth/v1",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(tokenTTL).Unix(),
		// jti keeps tokens minted in the same second distinct for revocation.
		"jti": uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(JWTSecret))
}

// nowLocked returns a strictly increasing timestamp so ordering by
// created_at is deterministic.
func (s *Server) nowLocked() time.Time {
	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(s.lastTime) {
		now = s.lastTime.Add(time.Microsecond)
	}
	s.lastTime = now
	return now
}

func userJSON(u *user) map[string]any {
	meta := u.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return map[string]any{
		"id":            u.ID,
		"email":         u.Email,
		"user_metadata": meta,
		"created_at":    u.Created.Format(timeLayout),
		"role":          "authenticated",
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func copyRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
