package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"supashowcase/pkg/domain"
)

type AuthEventType string

const (
	SignedIn    AuthEventType = "SIGNED_IN"
	SignedOut   AuthEventType = "SIGNED_OUT"
	UserUpdated AuthEventType = "USER_UPDATED"
)

// AuthEvent reports a session change made through any copy of a client.
type AuthEvent struct {
	Type    AuthEventType
	UserID  string
	Session *domain.Session
}

const authEventBuffer = 16

type authHub struct {
	mu   sync.Mutex
	next int
	subs map[int]chan AuthEvent
}

func newAuthHub() *authHub {
	return &authHub{subs: make(map[int]chan AuthEvent)}
}

// publish never blocks; a listener that falls behind by more than the
// buffer misses events.
func (h *authHub) publish(ev AuthEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// AuthSubscription delivers auth events until Unsubscribe is called.
type AuthSubscription struct {
	hub  *authHub
	id   int
	ch   chan AuthEvent
	once sync.Once
}

func (s *AuthSubscription) Events() <-chan AuthEvent { return s.ch }

// Unsubscribe stops delivery and closes the events channel.
func (s *AuthSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
		close(s.ch)
	})
}

// OnAuthStateChange registers a listener for sign-in, sign-out and user
// updates.
func (c *Client) OnAuthStateChange() *AuthSubscription {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	c.hub.next++
	sub := &AuthSubscription{hub: c.hub, id: c.hub.next, ch: make(chan AuthEvent, authEventBuffer)}
	c.hub.subs[sub.id] = sub.ch
	return sub
}

// Session returns the session bound to this client.
func (c *Client) Session() (domain.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return domain.Session{}, false
	}
	return *c.session, true
}

func (c *Client) setSession(s *domain.Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

// SignUp registers an account. When the project auto-confirms emails a
// session is returned as well.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (domain.Account, *domain.Session, error) {
	body := map[string]any{
		"email":    strings.TrimSpace(email),
		"password": password,
	}
	if len(metadata) > 0 {
		body["data"] = metadata
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/v1/signup", nil, body)
	if err != nil {
		return domain.Account{}, nil, err
	}
	data, err := c.do(req)
	if err != nil {
		return domain.Account{}, nil, err
	}
	var probe struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return domain.Account{}, nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if probe.AccessToken == "" {
		acct, err := DecodeRecord[domain.Account](data)
		return acct, nil, err
	}
	session, err := decodeSession(data)
	if err != nil {
		return domain.Account{}, nil, err
	}
	c.setSession(&session)
	c.hub.publish(AuthEvent{Type: SignedIn, UserID: session.User.ID, Session: &session})
	return session.User, &session, nil
}

// SignInWithPassword exchanges credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (domain.Session, error) {
	q := url.Values{"grant_type": {"password"}}
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/v1/token", q, map[string]string{
		"email":    strings.TrimSpace(email),
		"password": password,
	})
	if err != nil {
		return domain.Session{}, err
	}
	data, err := c.do(req)
	if err != nil {
		return domain.Session{}, err
	}
	session, err := decodeSession(data)
	if err != nil {
		return domain.Session{}, err
	}
	c.setSession(&session)
	c.hub.publish(AuthEvent{Type: SignedIn, UserID: session.User.ID, Session: &session})
	return session, nil
}

// SignOut revokes the bound session.
func (c *Client) SignOut(ctx context.Context) error {
	session, ok := c.Session()
	if !ok {
		return ErrNoSession
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/v1/logout", nil, nil)
	if err != nil {
		return err
	}
	if _, err := c.do(req); err != nil {
		return err
	}
	c.setSession(nil)
	c.hub.publish(AuthEvent{Type: SignedOut, UserID: session.User.ID})
	return nil
}

// GetUser resolves the bound access token to its account.
func (c *Client) GetUser(ctx context.Context) (domain.Account, error) {
	if c.AccessToken() == "" {
		return domain.Account{}, ErrNoSession
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/auth/v1/user", nil, nil)
	if err != nil {
		return domain.Account{}, err
	}
	data, err := c.do(req)
	if err != nil {
		return domain.Account{}, err
	}
	return DecodeRecord[domain.Account](data)
}

// UserAttributes are the mutable account fields.
type UserAttributes struct {
	Email    string         `json:"email,omitempty"`
	Password string         `json:"password,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// UpdateUser changes the signed-in account.
func (c *Client) UpdateUser(ctx context.Context, attrs UserAttributes) (domain.Account, error) {
	if c.AccessToken() == "" {
		return domain.Account{}, ErrNoSession
	}
	attrs.Email = strings.TrimSpace(attrs.Email)
	req, err := c.newRequest(ctx, http.MethodPut, "/auth/v1/user", nil, attrs)
	if err != nil {
		return domain.Account{}, err
	}
	data, err := c.do(req)
	if err != nil {
		return domain.Account{}, err
	}
	acct, err := DecodeRecord[domain.Account](data)
	if err != nil {
		return domain.Account{}, err
	}
	c.mu.Lock()
	if c.session != nil {
		c.session.User = acct
	}
	c.mu.Unlock()
	c.hub.publish(AuthEvent{Type: UserUpdated, UserID: acct.ID})
	return acct, nil
}

func decodeSession(data []byte) (domain.Session, error) {
	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if s.AccessToken == "" {
		return s, fmt.Errorf("%w: session without access token", ErrInvalidPayload)
	}
	if err := s.User.Validate(); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = time.Now().Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
	}
	return s, nil
}
