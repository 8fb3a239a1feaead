package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"

	"supashowcase/internal/platformtest"
	"supashowcase/internal/ratelimit"
	"supashowcase/internal/usertoken"
	"supashowcase/pkg/domain"
	"supashowcase/pkg/supabase"
	"supashowcase/services/demo/internal/app"
)

var pngBytes = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

type fixture struct {
	platform *platformtest.Server
	app      *app.App
	handler  http.Handler
}

func newFixture(t *testing.T, configure func(*Config)) fixture {
	t.Helper()
	srv := platformtest.New(t)
	client, err := supabase.New(supabase.Config{URL: srv.URL, AnonKey: platformtest.AnonKey})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	a := app.New(app.Config{Platform: client})
	t.Cleanup(a.Close)
	cfg := Config{App: a}
	if configure != nil {
		configure(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	return fixture{platform: srv, app: a, handler: s.Router()}
}

func call(t *testing.T, h http.Handler, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return serve(t, h, req)
}

func serve(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	out := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s response: %v", req.Method, req.URL.Path, err)
		}
	}
	return rec, out
}

func TestNewRequiresApp(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without app")
	}
}

func TestHealthAndMethods(t *testing.T) {
	f := newFixture(t, nil)
	if rec, _ := call(t, f.handler, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	if rec, body := call(t, f.handler, http.MethodGet, "/api/auth/signin", "", ""); rec.Code != http.StatusMethodNotAllowed || body["error"] != "method not allowed" {
		t.Fatalf("unexpected response %d %v", rec.Code, body)
	}
	if rec, _ := call(t, f.handler, http.MethodGet, "/api/profile", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("profile without token = %d", rec.Code)
	}
	if rec, _ := call(t, f.handler, http.MethodGet, "/api/books/", "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("book without id = %d", rec.Code)
	}
}

func TestAuthFlow(t *testing.T) {
	f := newFixture(t, nil)
	rec, body := call(t, f.handler, http.MethodPost, "/api/auth/signup", "", `{"email":"ada@example.com","password":"secret123","displayName":"Ada Lovelace","username":"ada"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d body=%v", rec.Code, body)
	}
	rec, body = call(t, f.handler, http.MethodPost, "/api/auth/signup", "", `{"email":"","password":""}`)
	if rec.Code != http.StatusBadRequest || body["error"] != "Email and password are required." {
		t.Fatalf("unexpected empty signup %d %v", rec.Code, body)
	}

	rec, body = call(t, f.handler, http.MethodPost, "/api/auth/signin", "", `{"email":"ada@example.com","password":"wrong"}`)
	if rec.Code != http.StatusBadRequest || body["error"] != "Invalid login credentials" {
		t.Fatalf("unexpected bad signin %d %v", rec.Code, body)
	}
	rec, body = call(t, f.handler, http.MethodPost, "/api/auth/signin", "", `{"email":"ada@example.com","password":"secret123"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("signin status = %d body=%v", rec.Code, body)
	}
	token, _ := body["access_token"].(string)
	if token == "" {
		t.Fatalf("missing access token: %v", body)
	}

	rec, body = call(t, f.handler, http.MethodGet, "/api/auth/me", token, "")
	if rec.Code != http.StatusOK || body["name"] != "Ada Lovelace" || body["handle"] != "@ada" {
		t.Fatalf("unexpected me %d %v", rec.Code, body)
	}

	if rec, _ := call(t, f.handler, http.MethodPost, "/api/auth/signout", token, ""); rec.Code != http.StatusOK {
		t.Fatalf("signout status = %d", rec.Code)
	}
	if rec, _ := call(t, f.handler, http.MethodGet, "/api/auth/me", token, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token should be rejected, got %d", rec.Code)
	}
}

func TestVerifierRejectsLocally(t *testing.T) {
	verifier, err := usertoken.NewVerifier(usertoken.Config{Secret: platformtest.JWTSecret})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	f := newFixture(t, func(c *Config) { c.Verifier = verifier })
	before := f.platform.Requests()
	if rec, _ := call(t, f.handler, http.MethodGet, "/api/auth/me", "not-a-jwt", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if f.platform.Requests() != before {
		t.Fatalf("forged token should not reach the platform")
	}
	_, token := f.platform.CreateUser(t, "ada@example.com", "secret123")
	if rec, _ := call(t, f.handler, http.MethodGet, "/api/auth/me", token, ""); rec.Code != http.StatusOK {
		t.Fatalf("valid token rejected: %d", rec.Code)
	}
}

func TestBooksAPI(t *testing.T) {
	f := newFixture(t, nil)
	rec, body := call(t, f.handler, http.MethodPost, "/api/books", "", `{"title":"Dune","author":"Frank Herbert","publishedYear":"19x5"}`)
	if rec.Code != http.StatusBadRequest || body["error"] != "Published year must be a number." {
		t.Fatalf("unexpected validation response %d %v", rec.Code, body)
	}
	rec, body = call(t, f.handler, http.MethodPost, "/api/books", "", `{"title":"Dune","author":"Frank Herbert","publishedYear":"1965"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%v", rec.Code, body)
	}
	id := jsonString(body["id"])

	rec, body = call(t, f.handler, http.MethodGet, "/api/books", "", "")
	if rec.Code != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("unexpected list %d %v", rec.Code, body)
	}
	rec, body = call(t, f.handler, http.MethodPut, "/api/books/"+id, "", `{"title":"Dune","author":"F. Herbert"}`)
	if rec.Code != http.StatusOK || body["author"] != "F. Herbert" {
		t.Fatalf("unexpected update %d %v", rec.Code, body)
	}
	if rec, _ := call(t, f.handler, http.MethodGet, "/api/books/"+id, "", ""); rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec, body = call(t, f.handler, http.MethodDelete, "/api/books/"+id, "", "")
	if rec.Code != http.StatusBadRequest || body["error"] != app.ErrConfirmationRequired.Error() {
		t.Fatalf("unconfirmed delete %d %v", rec.Code, body)
	}
	if rec, _ := call(t, f.handler, http.MethodDelete, "/api/books/"+id+"?confirm=true", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec, _ := call(t, f.handler, http.MethodGet, "/api/books/"+id, "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("deleted book still served: %d", rec.Code)
	}
}

func TestPlatformErrorsPassThrough(t *testing.T) {
	f := newFixture(t, nil)
	f.platform.Fail(http.MethodGet, "/rest/v1/book_store", http.StatusServiceUnavailable, "maintenance")
	rec, body := call(t, f.handler, http.MethodGet, "/api/books?refresh=true", "", "")
	if rec.Code != http.StatusServiceUnavailable || body["error"] != "maintenance" {
		t.Fatalf("unexpected passthrough %d %v", rec.Code, body)
	}
}

func multipartProfile(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("displayName", "Ada")
	_ = mw.WriteField("username", "ada")
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="avatar"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write(data)
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestProfileUploadAndAvatars(t *testing.T) {
	f := newFixture(t, nil)
	id, token := f.platform.CreateUser(t, "ada@example.com", "secret123")

	body, ct := multipartProfile(t, "notes.txt", "text/plain", []byte("hello"))
	req := httptest.NewRequest(http.MethodPut, "/api/profile", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+token)
	rec, out := serve(t, f.handler, req)
	if rec.Code != http.StatusBadRequest || out["error"] != "Please select an image file." {
		t.Fatalf("unexpected text upload %d %v", rec.Code, out)
	}

	body, ct = multipartProfile(t, "me.png", "image/png", pngBytes)
	req = httptest.NewRequest(http.MethodPut, "/api/profile", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+token)
	rec, out = serve(t, f.handler, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d body=%v", rec.Code, out)
	}
	avatarURL, _ := out["avatarUrl"].(string)
	if !strings.Contains(avatarURL, "/storage/v1/object/public/avatars/"+id+"/") {
		t.Fatalf("unexpected avatar url %q", avatarURL)
	}

	rec, out = call(t, f.handler, http.MethodGet, "/api/profile/avatars", token, "")
	if rec.Code != http.StatusOK || out["count"] != float64(1) {
		t.Fatalf("unexpected avatars %d %v", rec.Code, out)
	}

	rec, out = call(t, f.handler, http.MethodPost, "/api/profile/avatar", token, `{"path":"someone-else/x.png"}`)
	if rec.Code != http.StatusForbidden || out["error"] != app.ErrForeignObject.Error() {
		t.Fatalf("unexpected foreign select %d %v", rec.Code, out)
	}
	if rec, _ := call(t, f.handler, http.MethodDelete, "/api/profile/avatar", token, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("delete without path = %d", rec.Code)
	}
}

func TestSignInRateLimited(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := ratelimit.Dial(redis.Addr(), "", "test:demo",
		ratelimit.Rule{Name: ruleSignIn, Limit: 1, Window: time.Minute})
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })
	f := newFixture(t, func(c *Config) { c.Limiter = limiter })

	payload := `{"email":"ada@example.com","password":"x"}`
	if rec, _ := call(t, f.handler, http.MethodPost, "/api/auth/signin", "", payload); rec.Code == http.StatusTooManyRequests {
		t.Fatalf("first attempt should pass the limiter")
	}
	rec, body := call(t, f.handler, http.MethodPost, "/api/auth/signin", "", payload)
	if rec.Code != http.StatusTooManyRequests || body["error"] != "too many login attempts" {
		t.Fatalf("unexpected limited response %d %v", rec.Code, body)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
	// Sign-up has no rule and is not limited.
	if rec, _ := call(t, f.handler, http.MethodPost, "/api/auth/signup", "", payload); rec.Code == http.StatusTooManyRequests {
		t.Fatalf("signup should not be limited")
	}
}

func TestSignedURL(t *testing.T) {
	f := newFixture(t, nil)
	id, token := f.platform.CreateUser(t, "ada@example.com", "secret123")
	f.platform.HandleFunction("signed-url", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Bucket    string `json:"bucket"`
			Path      string `json:"path"`
			ExpiresIn int    `json:"expiresIn"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"bucket": req.Bucket, "path": req.Path, "expiresIn": req.ExpiresIn, "ok": true,
			"signedUrl": "https://signed.example/" + req.Path,
		})
	}))

	rec, body := call(t, f.handler, http.MethodPost, "/api/functions/signed-url", token, `{"bucket":"docs","path":"other/a.pdf"}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(jsonString(body["error"]), "user-scoped") {
		t.Fatalf("unexpected scope response %d %v", rec.Code, body)
	}
	rec, body = call(t, f.handler, http.MethodPost, "/api/functions/signed-url", token, `{"bucket":"docs","path":"`+id+`/a.pdf","expiresIn":1.5}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("fractional expiry accepted: %d %v", rec.Code, body)
	}
	rec, body = call(t, f.handler, http.MethodPost, "/api/functions/signed-url", token, `{"bucket":"docs","path":"`+id+`/a.pdf","expiresIn":60}`)
	if rec.Code != http.StatusOK || body["expiresIn"] != float64(60) || body["signedUrl"] != "https://signed.example/"+id+"/a.pdf" {
		t.Fatalf("unexpected signed url %d %v", rec.Code, body)
	}

	f.platform.HandleFunction("hello-world", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"Too many requests. Try again later."}`))
	}))
	rec, body = call(t, f.handler, http.MethodPost, "/api/functions/hello-world", "", `{"name":"Ada"}`)
	if rec.Code != http.StatusTooManyRequests || body["error"] != "Too many requests. Try again later." {
		t.Fatalf("function error not passed through: %d %v", rec.Code, body)
	}
}

func TestChatStream(t *testing.T) {
	f := newFixture(t, nil)
	ada, adaToken := f.platform.CreateUser(t, "ada@example.com", "secret123")
	bob, _ := f.platform.CreateUser(t, "bob@example.com", "secret123")
	f.platform.Insert(domain.TableProfiles, platformtest.Row{"id": bob, "display_name": "Bob", "username": "bob"})
	f.platform.Insert(domain.TableMessages, platformtest.Row{"sender_user_id": bob, "receiver_user_id": ada, "body": "hi ada"})

	ts := httptest.NewServer(f.handler)
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/chat/stream?recipient=" + bob + "&access_token=" + adaToken
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	var frame streamFrame
	if err := ws.ReadJSON(&frame); err != nil {
		t.Fatalf("read history: %v", err)
	}
	if frame.Type != "history" || len(frame.Messages) != 1 || frame.Messages[0].Body != "hi ada" {
		t.Fatalf("unexpected history frame %+v", frame)
	}

	rec, body := call(t, f.handler, http.MethodPost, "/api/chat/messages", adaToken, `{"body":"hello bob"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("send status = %d body=%v", rec.Code, body)
	}
	for {
		if err := ws.ReadJSON(&frame); err != nil {
			t.Fatalf("read update: %v", err)
		}
		if frame.Type == "messages" && len(frame.Messages) == 2 && frame.Messages[1].Body == "hello bob" {
			break
		}
	}

	if rec, _ := call(t, f.handler, http.MethodPost, "/api/auth/signout", adaToken, ""); rec.Code != http.StatusOK {
		t.Fatalf("signout status = %d", rec.Code)
	}
	for {
		if err := ws.ReadJSON(&frame); err != nil {
			t.Fatalf("stream should report closing before disconnect: %v", err)
		}
		if frame.Type == "closed" {
			break
		}
	}
}

func TestChatStreamResubscribesAfterFeedDrop(t *testing.T) {
	f := newFixture(t, nil)
	ada, adaToken := f.platform.CreateUser(t, "ada@example.com", "secret123")
	bob, _ := f.platform.CreateUser(t, "bob@example.com", "secret123")

	ts := httptest.NewServer(f.handler)
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/chat/stream?recipient=" + bob + "&access_token=" + adaToken
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	var frame streamFrame
	if err := ws.ReadJSON(&frame); err != nil || frame.Type != "history" {
		t.Fatalf("expected history frame, got %+v %v", frame, err)
	}
	f.platform.WaitSubscribers(t, domain.TableMessages, 1)
	f.platform.DropRealtime()

	if err := ws.ReadJSON(&frame); err != nil {
		t.Fatalf("read after drop: %v", err)
	}
	if frame.Type != "error" || frame.Error != errFeedLost {
		t.Fatalf("expected feed lost frame, got %+v", frame)
	}
	if err := ws.ReadJSON(&frame); err != nil || frame.Type != "history" {
		t.Fatalf("expected fresh history after resubscribe, got %+v %v", frame, err)
	}
	f.platform.WaitSubscribers(t, domain.TableMessages, 1)

	f.platform.Insert(domain.TableMessages, platformtest.Row{"sender_user_id": bob, "receiver_user_id": ada, "body": "still there?"})
	for {
		if err := ws.ReadJSON(&frame); err != nil {
			t.Fatalf("read live update: %v", err)
		}
		if frame.Type == "messages" && len(frame.Messages) == 1 && frame.Messages[0].Body == "still there?" {
			break
		}
	}
}

func TestRefreshClearsCachedErrors(t *testing.T) {
	f := newFixture(t, nil)
	_, token := f.platform.CreateUser(t, "ada@example.com", "secret123")
	bob, _ := f.platform.CreateUser(t, "bob@example.com", "secret123")
	f.platform.Insert(domain.TableProfiles, platformtest.Row{"id": bob, "display_name": "Bob", "username": "bob"})

	cases := []struct {
		name, failMethod, failPath, path string
	}{
		{"profile", http.MethodGet, "/rest/v1/profiles", "/api/profile"},
		{"avatars", http.MethodPost, "/storage/v1/object/list/avatars", "/api/profile/avatars"},
		{"recipients", http.MethodGet, "/rest/v1/profiles", "/api/chat/recipients"},
		{"messages", http.MethodGet, "/rest/v1/messages", "/api/chat/messages?recipient=" + bob},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f.platform.Fail(tc.failMethod, tc.failPath, http.StatusServiceUnavailable, "maintenance")
			rec, body := call(t, f.handler, http.MethodGet, tc.path, token, "")
			if rec.Code != http.StatusServiceUnavailable || body["error"] != "maintenance" {
				t.Fatalf("expected platform failure, got %d %v", rec.Code, body)
			}
			sep := "?"
			if strings.Contains(tc.path, "?") {
				sep = "&"
			}
			rec, body = call(t, f.handler, http.MethodGet, tc.path+sep+"refresh=true", token, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("refresh should recover, got %d %v", rec.Code, body)
			}
		})
	}

	if rec, body := call(t, f.handler, http.MethodGet, "/api/chat/messages", token, ""); rec.Code != http.StatusOK || body["recipient"] != bob {
		t.Fatalf("open conversation lost: %d %v", rec.Code, body)
	}
	f.platform.Fail(http.MethodGet, "/rest/v1/messages", http.StatusServiceUnavailable, "maintenance")
	if rec, _ := call(t, f.handler, http.MethodGet, "/api/chat/messages?refresh=true", token, ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("refresh of the open conversation should refetch, got %d", rec.Code)
	}
	if rec, _ := call(t, f.handler, http.MethodGet, "/api/chat/messages", token, ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("failed refresh should stay cached, got %d", rec.Code)
	}
	if rec, _ := call(t, f.handler, http.MethodGet, "/api/chat/messages?refresh=true", token, ""); rec.Code != http.StatusOK {
		t.Fatalf("second refresh should recover, got %d", rec.Code)
	}
}

func TestOversizedAvatarReportsLimit(t *testing.T) {
	f := newFixture(t, nil)
	_, token := f.platform.CreateUser(t, "ada@example.com", "secret123")

	body, ct := multipartProfile(t, "big.png", "image/png", bytes.Repeat([]byte{0}, 10<<20))
	req := httptest.NewRequest(http.MethodPut, "/api/profile", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+token)
	rec, out := serve(t, f.handler, req)
	if rec.Code != http.StatusBadRequest || out["error"] != "Image must be smaller than 5MB." {
		t.Fatalf("unexpected oversized upload %d %v", rec.Code, out)
	}
}

func jsonString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}
