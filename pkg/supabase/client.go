// Package supabase is a small typed client for the hosted platform: PostgREST
// tables, GoTrue auth, Storage, Realtime and Edge Functions.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"supashowcase/pkg/domain"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultHeartbeat = 25 * time.Second
	maxResponseBytes = 8 << 20
)

// Config configures a platform client.
type Config struct {
	URL        string
	AnonKey    string
	HTTPClient *http.Client
	// RealtimeURL overrides the websocket endpoint derived from URL.
	RealtimeURL       string
	HeartbeatInterval time.Duration
}

// Client talks to one platform project. A client carries at most one
// session; use WithAccessToken or WithSession for per-caller copies.
type Client struct {
	baseURL     string
	anonKey     string
	httpClient  *http.Client
	realtimeURL string
	heartbeat   time.Duration
	hub         *authHub

	mu      sync.RWMutex
	session *domain.Session
}

// New validates cfg and returns an anonymous client.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, errors.New("supabase: url required")
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("supabase: invalid url %q", cfg.URL)
	}
	anonKey := strings.TrimSpace(cfg.AnonKey)
	if anonKey == "" {
		return nil, errors.New("supabase: anon key required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	realtimeURL := strings.TrimSpace(cfg.RealtimeURL)
	if realtimeURL == "" {
		ws := *parsed
		ws.Scheme = "ws"
		if parsed.Scheme == "https" {
			ws.Scheme = "wss"
		}
		ws.Path = strings.TrimRight(parsed.Path, "/") + "/realtime/v1/websocket"
		realtimeURL = ws.String()
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &Client{
		baseURL:     base,
		anonKey:     anonKey,
		httpClient:  httpClient,
		realtimeURL: realtimeURL,
		heartbeat:   heartbeat,
		hub:         newAuthHub(),
	}, nil
}

// URL returns the project base URL.
func (c *Client) URL() string { return c.baseURL }

// WithAccessToken returns a copy bound to token. An empty token yields an
// anonymous copy. Auth listeners are shared with the parent.
func (c *Client) WithAccessToken(token string) *Client {
	token = strings.TrimSpace(token)
	if token == "" {
		return c.clone(nil)
	}
	return c.clone(&domain.Session{AccessToken: token, TokenType: "bearer"})
}

// WithSession returns a copy bound to s.
func (c *Client) WithSession(s domain.Session) *Client {
	return c.clone(&s)
}

func (c *Client) clone(s *domain.Session) *Client {
	return &Client{
		baseURL:     c.baseURL,
		anonKey:     c.anonKey,
		httpClient:  c.httpClient,
		realtimeURL: c.realtimeURL,
		heartbeat:   c.heartbeat,
		hub:         c.hub,
		session:     s,
	}
}

// AccessToken returns the current session token or "".
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return ""
	}
	return c.session.AccessToken
}

func (c *Client) bearer() string {
	if token := c.AccessToken(); token != "" {
		return token
	}
	return c.anonKey
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+c.bearer())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do executes req and returns the response body, turning non-2xx replies
// into *APIError.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp.StatusCode, data)
	}
	return data, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	data, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
