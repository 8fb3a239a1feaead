package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	joinTimeout   = 10 * time.Second
	writeTimeout  = 5 * time.Second
	eventsBuffer  = 64
	realtimeVsn   = "1.0.0"
	phoenixTopic  = "phoenix"
	eventJoin     = "phx_join"
	eventLeave    = "phx_leave"
	eventReply    = "phx_reply"
	eventError    = "phx_error"
	eventClose    = "phx_close"
	eventHeart    = "heartbeat"
	eventPgChange = "postgres_changes"
)

// ErrSubscriptionClosed is reported by Err after Close.
var ErrSubscriptionClosed = errors.New("subscription closed")

// ChannelConfig selects the row changes a subscription receives. The
// platform filters by table only; callers narrow events themselves.
type ChannelConfig struct {
	Topic  string
	Schema string
	Table  string
	// Event is INSERT, UPDATE, DELETE or *.
	Event  string
	Filter string
}

// ChangeEvent is one row change pushed by the platform.
type ChangeEvent struct {
	Type            string          `json:"type"`
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	Record          json.RawMessage `json:"record"`
	OldRecord       json.RawMessage `json:"old_record"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// DecodeChange parses the new row carried by ev.
func DecodeChange[T any](ev ChangeEvent) (T, error) {
	return DecodeRecord[T](ev.Record)
}

type envelope struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

// Subscription is one joined realtime channel. Events is closed once the
// subscription ends; Err reports why.
type Subscription struct {
	conn   *websocket.Conn
	topic  string
	events chan ChangeEvent
	done   chan struct{}
	ref    atomic.Int64

	writeMu sync.Mutex
	once    sync.Once

	errMu sync.Mutex
	err   error
}

// Subscribe opens a websocket, joins the channel and starts delivering
// change events. It returns after the platform acknowledged the join.
func (c *Client) Subscribe(ctx context.Context, cfg ChannelConfig) (*Subscription, error) {
	if cfg.Table == "" {
		return nil, errors.New("subscribe: table required")
	}
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.Event == "" {
		cfg.Event = "*"
	}
	if cfg.Topic == "" {
		cfg.Topic = cfg.Schema + ":" + cfg.Table
	}
	u, err := url.Parse(c.realtimeURL)
	if err != nil {
		return nil, fmt.Errorf("subscribe: realtime url: %w", err)
	}
	q := u.Query()
	q.Set("apikey", c.anonKey)
	q.Set("vsn", realtimeVsn)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: joinTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("subscribe: dial: %w", err)
	}
	sub := &Subscription{
		conn:   conn,
		topic:  "realtime:" + cfg.Topic,
		events: make(chan ChangeEvent, eventsBuffer),
		done:   make(chan struct{}),
	}
	if err := sub.join(ctx, cfg, c.bearer()); err != nil {
		conn.Close()
		return nil, err
	}
	go sub.readLoop()
	go sub.heartbeat(c.heartbeat)
	return sub, nil
}

func (s *Subscription) join(ctx context.Context, cfg ChannelConfig, token string) error {
	change := map[string]string{"event": cfg.Event, "schema": cfg.Schema, "table": cfg.Table}
	if cfg.Filter != "" {
		change["filter"] = cfg.Filter
	}
	payload := map[string]any{
		"config": map[string]any{
			"broadcast":        map[string]bool{"self": false},
			"presence":         map[string]string{"key": ""},
			"postgres_changes": []map[string]string{change},
		},
		"access_token": token,
	}
	ref := s.nextRef()
	if err := s.send(s.topic, eventJoin, payload, ref); err != nil {
		return fmt.Errorf("subscribe: join: %w", err)
	}

	deadline := time.Now().Add(joinTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetReadDeadline(deadline)
	defer s.conn.SetReadDeadline(time.Time{})
	for {
		var msg envelope
		if err := s.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("subscribe: await join: %w", err)
		}
		if msg.Topic != s.topic {
			continue
		}
		switch msg.Event {
		case eventReply:
			if msg.Ref != ref {
				continue
			}
			var reply struct {
				Status   string          `json:"status"`
				Response json.RawMessage `json:"response"`
			}
			if err := json.Unmarshal(msg.Payload, &reply); err != nil {
				return fmt.Errorf("%w: join reply: %v", ErrInvalidPayload, err)
			}
			if reply.Status != "ok" {
				return fmt.Errorf("subscribe: join rejected: %s", string(reply.Response))
			}
			return nil
		case eventError, eventClose:
			return fmt.Errorf("subscribe: channel %s", msg.Event)
		}
	}
}

// Events delivers change events in arrival order.
func (s *Subscription) Events() <-chan ChangeEvent { return s.events }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns the reason the subscription ended, or nil while it is live.
func (s *Subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close leaves the channel and releases the connection. It is safe to call
// more than once.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.setErr(ErrSubscriptionClosed)
		_ = s.send(s.topic, eventLeave, map[string]any{}, s.nextRef())
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *Subscription) readLoop() {
	defer close(s.events)
	for {
		var msg envelope
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.fail(fmt.Errorf("realtime read: %w", err))
			return
		}
		if msg.Topic != s.topic {
			continue
		}
		switch msg.Event {
		case eventPgChange:
			var body struct {
				Data ChangeEvent `json:"data"`
			}
			if err := json.Unmarshal(msg.Payload, &body); err != nil {
				continue
			}
			select {
			case s.events <- body.Data:
			case <-s.done:
				return
			}
		case eventError, eventClose:
			s.fail(fmt.Errorf("realtime: channel %s", msg.Event))
			return
		}
	}
}

func (s *Subscription) heartbeat(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.send(phoenixTopic, eventHeart, map[string]any{}, s.nextRef()); err != nil {
				s.fail(fmt.Errorf("realtime heartbeat: %w", err))
				return
			}
		}
	}
}

func (s *Subscription) fail(err error) {
	s.setErr(err)
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *Subscription) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *Subscription) send(topic, event string, payload any, ref string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(envelope{Topic: topic, Event: event, Payload: data, Ref: ref, JoinRef: "1"})
}

func (s *Subscription) nextRef() string {
	return strconv.FormatInt(s.ref.Add(1), 10)
}
