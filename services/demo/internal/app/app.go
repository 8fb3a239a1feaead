package app

import (
	"log/slog"
	"sync"
	"time"

	"supashowcase/pkg/conversation"
	"supashowcase/pkg/domain"
	"supashowcase/pkg/querycache"
	"supashowcase/pkg/supabase"
)

const (
	booksStaleTime   = 30 * time.Second
	profileStaleTime = 30 * time.Second
	avatarListLimit  = 50
)

// cacheKey names one cached query, e.g. "books" or "profile:<id>".
type cacheKey string

func (k cacheKey) String() string { return string(k) }

func profileKey(userID string) cacheKey    { return cacheKey("profile:" + userID) }
func avatarsKey(userID string) cacheKey    { return cacheKey("avatars:" + userID) }
func recipientsKey(userID string) cacheKey { return cacheKey("recipients:" + userID) }

const booksKey cacheKey = "books"

// Config holds runtime configuration for the demo application.
type Config struct {
	// Platform is the anonymous project client; per-viewer copies are
	// derived from it.
	Platform     *supabase.Client
	AvatarBucket string
	Logger       *slog.Logger
	Now          func() time.Time
}

// Viewer is the signed-in caller of an operation.
type Viewer struct {
	ID    string
	Email string
	Token string
}

// App holds the platform client, the query caches and the viewers' chat
// rooms. Caches are shared by every viewer.
type App struct {
	platform     *supabase.Client
	avatarBucket string
	logger       *slog.Logger
	now          func() time.Time

	books      *querycache.Cache[cacheKey, []domain.Book]
	profiles   *querycache.Cache[cacheKey, *domain.Profile]
	avatars    *querycache.Cache[cacheKey, []domain.FileObject]
	recipients *querycache.Cache[cacheKey, []domain.Profile]
	messages   *conversation.Cache

	mu      sync.Mutex
	rooms   map[string]*viewerRoom
	editors map[string]*Editor

	authSub *supabase.AuthSubscription
	done    chan struct{}
}

type viewerRoom struct {
	token string
	room  *conversation.Room
}

// New constructs the application and starts listening for sign-outs.
func New(cfg Config) *App {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	bucket := cfg.AvatarBucket
	if bucket == "" {
		bucket = domain.AvatarBucket
	}
	a := &App{
		platform:     cfg.Platform,
		avatarBucket: bucket,
		logger:       logger,
		now:          now,
		books:        querycache.New[cacheKey, []domain.Book](querycache.WithStaleTime(booksStaleTime)),
		profiles:     querycache.New[cacheKey, *domain.Profile](querycache.WithStaleTime(profileStaleTime)),
		avatars:      querycache.New[cacheKey, []domain.FileObject](),
		recipients:   querycache.New[cacheKey, []domain.Profile](querycache.WithStaleTime(profileStaleTime)),
		messages:     conversation.NewCache(),
		rooms:        make(map[string]*viewerRoom),
		editors:      make(map[string]*Editor),
		authSub:      cfg.Platform.OnAuthStateChange(),
		done:         make(chan struct{}),
	}
	go a.watchAuth()
	return a
}

// Close stops the auth listener and closes every chat room.
func (a *App) Close() {
	a.authSub.Unsubscribe()
	<-a.done
	a.mu.Lock()
	rooms := a.rooms
	a.rooms = make(map[string]*viewerRoom)
	a.mu.Unlock()
	for _, vr := range rooms {
		vr.room.Close()
	}
}

// client returns a platform client acting as v.
func (a *App) client(v Viewer) *supabase.Client {
	return a.platform.WithSession(domain.Session{
		AccessToken: v.Token,
		TokenType:   "bearer",
		User:        domain.Account{ID: v.ID, Email: v.Email},
	})
}

func (a *App) watchAuth() {
	defer close(a.done)
	for ev := range a.authSub.Events() {
		switch ev.Type {
		case supabase.SignedOut:
			a.closeRoom(ev.UserID)
			a.profiles.Remove(profileKey(ev.UserID))
			a.logger.Info("viewer signed out", "user_id", ev.UserID)
		case supabase.UserUpdated:
			a.profiles.Invalidate(profileKey(ev.UserID))
		}
	}
}
