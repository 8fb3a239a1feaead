package supabase

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"supashowcase/internal/platformtest"
	"supashowcase/pkg/domain"
)

func newTestClient(t *testing.T) (*Client, *platformtest.Server) {
	t.Helper()
	srv := platformtest.New(t)
	c, err := New(Config{URL: srv.URL, AnonKey: platformtest.AnonKey, HeartbeatInterval: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, srv
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{AnonKey: "k"}); err == nil {
		t.Fatalf("expected missing url error")
	}
	if _, err := New(Config{URL: "https://x.example.co"}); err == nil {
		t.Fatalf("expected missing anon key error")
	}
	c, err := New(Config{URL: "https://x.example.co/", AnonKey: "k"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.URL() != "https://x.example.co" {
		t.Fatalf("unexpected base url %q", c.URL())
	}
	if c.realtimeURL != "wss://x.example.co/realtime/v1/websocket" {
		t.Fatalf("unexpected realtime url %q", c.realtimeURL)
	}
}

func TestRequestsCarryKeyAndBearer(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()
	c, err := New(Config{URL: srv.URL, AnonKey: "anon"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	if _, err := List[domain.Book](ctx, c.From(domain.TableBooks)); err != nil {
		t.Fatalf("list: %v", err)
	}
	if got.Get("apikey") != "anon" || got.Get("Authorization") != "Bearer anon" {
		t.Fatalf("anonymous request headers wrong: %v", got)
	}

	scoped := c.WithAccessToken("user-token")
	if _, err := List[domain.Book](ctx, scoped.From(domain.TableBooks)); err != nil {
		t.Fatalf("list scoped: %v", err)
	}
	if got.Get("Authorization") != "Bearer user-token" {
		t.Fatalf("expected user bearer, got %q", got.Get("Authorization"))
	}
	if c.AccessToken() != "" {
		t.Fatalf("scoping must not change the parent client")
	}
}

func TestBookLifecycle(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	year := 1965

	created, err := Single[domain.Book](ctx, c.From(domain.TableBooks).
		Insert(domain.BookInsert{Title: "Dune", Author: "Frank Herbert", PublishedYear: &year}).
		Select("*"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Fatalf("expected generated id and created_at, got %+v", created)
	}

	if err := c.From(domain.TableBooks).Delete().Eq("id", created.ID.String()).Exec(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	books, err := List[domain.Book](ctx, c.From(domain.TableBooks).Order("created_at", false))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, b := range books {
		if b.ID == created.ID {
			t.Fatalf("deleted book still listed")
		}
	}
}

func TestConversationFilterQuotesIDs(t *testing.T) {
	got := ConversationFilter("a", `b),sender_user_id.neq.("x`)
	want := `and(sender_user_id.eq."a",receiver_user_id.eq."b),sender_user_id.neq.(\"x"),` +
		`and(sender_user_id.eq."b),sender_user_id.neq.(\"x",receiver_user_id.eq."a")`
	if got != want {
		t.Fatalf("unexpected filter\n got %s\nwant %s", got, want)
	}

	c, srv := newTestClient(t)
	srv.Insert(domain.TableMessages, platformtest.Row{"sender_user_id": "a", "receiver_user_id": "b", "body": "private"})
	msgs, err := List[domain.Message](context.Background(), c.From(domain.TableMessages).
		Or(ConversationFilter("z", "a),sender_user_id.eq.a,and(body.eq.x")))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("crafted recipient widened the filter: %+v", msgs)
	}
}

func TestQueryFiltersOrderAndLimit(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()
	for _, m := range []platformtest.Row{
		{"sender_user_id": "a", "receiver_user_id": "b", "body": "1"},
		{"sender_user_id": "b", "receiver_user_id": "a", "body": "2"},
		{"sender_user_id": "a", "receiver_user_id": "c", "body": "3"},
		{"sender_user_id": "a", "receiver_user_id": "b", "body": "4"},
	} {
		srv.Insert(domain.TableMessages, m)
	}

	msgs, err := List[domain.Message](ctx, c.From(domain.TableMessages).
		Select("id, sender_user_id, receiver_user_id, body, created_at").
		Or(ConversationFilter("a", "b")).
		Order("created_at", false).
		Limit(2))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Body != "4" || msgs[1].Body != "2" {
		t.Fatalf("unexpected conversation page: %+v", msgs)
	}

	in, err := List[domain.Message](ctx, c.From(domain.TableMessages).In("body", []string{"1", "3"}))
	if err != nil {
		t.Fatalf("list in: %v", err)
	}
	if len(in) != 2 {
		t.Fatalf("expected 2 rows for in filter, got %d", len(in))
	}
}

func TestMaybeSingle(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()
	srv.Insert(domain.TableProfiles, platformtest.Row{"id": "u1", "display_name": "Ada"})

	p, err := MaybeSingle[domain.Profile](ctx, c.From(domain.TableProfiles).Eq("id", "u1"))
	if err != nil {
		t.Fatalf("maybe single: %v", err)
	}
	if p.Name() != "Ada" {
		t.Fatalf("unexpected profile %+v", p)
	}
	_, err = MaybeSingle[domain.Profile](ctx, c.From(domain.TableProfiles).Eq("id", "missing"))
	if !errors.Is(err, ErrNotFound) || !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpsertMergesOnID(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()
	srv.Insert(domain.TableProfiles, platformtest.Row{"id": "u1", "display_name": "Ada", "username": "ada"})

	err := c.From(domain.TableProfiles).Upsert(map[string]any{"id": "u1", "avatar_url": nil}).Exec(ctx)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	rows := srv.Rows(domain.TableProfiles)
	if len(rows) != 1 || rows[0]["username"] != "ada" || rows[0]["avatar_url"] != nil {
		t.Fatalf("unexpected rows after upsert: %+v", rows)
	}
}

func TestInvalidPayloadIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id": 1, "title": "", "author": "x", "created_at": "2024-01-01T00:00:00Z"}]`))
	}))
	defer srv.Close()
	c, _ := New(Config{URL: srv.URL, AnonKey: "anon"})
	_, err := List[domain.Book](context.Background(), c.From(domain.TableBooks))
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
}

func TestAPIErrorMessages(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
		code   string
	}{
		{"postgrest", 400, `{"code":"23502","message":"null value in column","hint":null}`, "null value in column", "23502"},
		{"gotrue", 400, `{"code":400,"error_code":"invalid_credentials","msg":"Invalid login credentials"}`, "Invalid login credentials", "400"},
		{"storage", 409, `{"statusCode":"409","error":"Duplicate","message":"The resource already exists"}`, "The resource already exists", ""},
		{"plain", 502, `bad gateway`, "bad gateway", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := parseAPIError(tc.status, []byte(tc.body))
			if err.Message != tc.want || err.Status != tc.status || err.Code != tc.code {
				t.Fatalf("unexpected error %+v", err)
			}
		})
	}
}

func TestAuthFlow(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	sub := c.OnAuthStateChange()
	defer sub.Unsubscribe()

	acct, session, err := c.SignUp(ctx, "ada@example.com", "secret123", map[string]any{"display_name": "Ada"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if session == nil || acct.MetadataString("display_name") != "Ada" {
		t.Fatalf("expected session and metadata, got %+v %+v", acct, session)
	}
	if ev := <-sub.Events(); ev.Type != SignedIn || ev.UserID != acct.ID {
		t.Fatalf("unexpected event %+v", ev)
	}

	if _, err := c.SignInWithPassword(ctx, "ada@example.com", "wrong"); StatusOf(err) != http.StatusBadRequest {
		t.Fatalf("expected 400 on bad password, got %v", err)
	}
	if _, err := c.SignInWithPassword(ctx, "ada@example.com", "secret123"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	<-sub.Events()

	user, err := c.GetUser(ctx)
	if err != nil || user.ID != acct.ID {
		t.Fatalf("get user: %+v %v", user, err)
	}
	updated, err := c.UpdateUser(ctx, UserAttributes{Email: " ada2@example.com "})
	if err != nil || updated.Email != "ada2@example.com" {
		t.Fatalf("update user: %+v %v", updated, err)
	}
	if ev := <-sub.Events(); ev.Type != UserUpdated {
		t.Fatalf("expected user updated event, got %+v", ev)
	}

	token := c.AccessToken()
	if err := c.SignOut(ctx); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if ev := <-sub.Events(); ev.Type != SignedOut {
		t.Fatalf("expected signed out event, got %+v", ev)
	}
	if _, ok := c.Session(); ok {
		t.Fatalf("session should be cleared")
	}
	if _, err := c.WithAccessToken(token).GetUser(ctx); !IsUnauthorized(err) {
		t.Fatalf("revoked token should be unauthorized, got %v", err)
	}
	if err := c.SignOut(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected no session, got %v", err)
	}
}

func TestSignUpWithoutAutoConfirm(t *testing.T) {
	c, srv := newTestClient(t)
	srv.AutoConfirm = false
	acct, session, err := c.SignUp(context.Background(), "grace@example.com", "secret123", nil)
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if session != nil || acct.ID == "" {
		t.Fatalf("expected account without session, got %+v %+v", acct, session)
	}
}

func TestStorageRoundTrip(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()
	userID, token := srv.CreateUser(t, "ada@example.com", "secret123")
	bucket := c.WithAccessToken(token).Storage(domain.AvatarBucket)

	first := userID + "/1-a.png"
	second := userID + "/2-b.png"
	for _, p := range []string{first, second} {
		if err := bucket.Upload(ctx, p, strings.NewReader("png"), 3, "image/png", false); err != nil {
			t.Fatalf("upload %s: %v", p, err)
		}
	}
	if err := bucket.Upload(ctx, first, strings.NewReader("png"), 3, "image/png", false); StatusOf(err) != http.StatusConflict {
		t.Fatalf("expected conflict on duplicate upload, got %v", err)
	}

	files, err := bucket.List(ctx, userID, ListOptions{Limit: 50, SortBy: "created_at", Descending: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 || files[0].Name != "2-b.png" {
		t.Fatalf("unexpected listing %+v", files)
	}

	signed, err := bucket.CreateSignedURL(ctx, first, 120)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !strings.HasPrefix(signed, srv.URL+"/storage/v1/object/sign/avatars/"+first) {
		t.Fatalf("unexpected signed url %q", signed)
	}

	public := bucket.PublicURL(first)
	if public != srv.URL+"/storage/v1/object/public/avatars/"+first {
		t.Fatalf("unexpected public url %q", public)
	}
	if bucket.PublicURL("") != "" {
		t.Fatalf("empty path must resolve to empty url")
	}

	if err := bucket.Remove(ctx, first); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := srv.Object(domain.AvatarBucket, first); ok {
		t.Fatalf("object still stored after remove")
	}
}

func TestInvokeFunctionError(t *testing.T) {
	c, srv := newTestClient(t)
	srv.HandleFunction("echo", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/echo" {
			t.Errorf("unexpected function path %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"nope"}`))
	}))
	err := c.Invoke(context.Background(), "echo", map[string]string{"a": "b"}, nil)
	var fnErr *FunctionError
	if !errors.As(err, &fnErr) || fnErr.Status != http.StatusForbidden || fnErr.Message != "nope" {
		t.Fatalf("unexpected error %v", err)
	}
	if !IsForbidden(err) {
		t.Fatalf("expected forbidden classification")
	}
}

func TestRealtimeDeliversInserts(t *testing.T) {
	c, srv := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := c.Subscribe(ctx, ChannelConfig{Topic: "messages", Table: domain.TableMessages, Event: "INSERT"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	srv.WaitSubscribers(t, domain.TableMessages, 1)
	srv.Insert(domain.TableMessages, platformtest.Row{"sender_user_id": "a", "receiver_user_id": "b", "body": "hi"})

	select {
	case ev := <-sub.Events():
		msg, err := DecodeChange[domain.Message](ev)
		if err != nil {
			t.Fatalf("decode change: %v", err)
		}
		if ev.Type != "INSERT" || msg.Body != "hi" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for change event")
	}

	// Survive a few heartbeats.
	time.Sleep(150 * time.Millisecond)
	if err := sub.Err(); err != nil {
		t.Fatalf("subscription failed: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !errors.Is(sub.Err(), ErrSubscriptionClosed) {
		t.Fatalf("expected closed error, got %v", sub.Err())
	}
	for range sub.Events() {
	}
}
