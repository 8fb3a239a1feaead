package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"supashowcase/pkg/domain"
	"supashowcase/pkg/querycache"
)

// StaleTime is how long fetched history is served without refetching.
const StaleTime = 20 * time.Second

// ErrClosed is returned by a room after Close.
var ErrClosed = errors.New("conversation room closed")

// Cache holds conversation histories, newest first.
type Cache = querycache.Cache[Key, []domain.Message]

// NewCache returns a history cache with the default stale time.
func NewCache() *Cache {
	return querycache.New[Key, []domain.Message](querycache.WithStaleTime(StaleTime))
}

// Room is one viewer's chat. At most one conversation is open at a time and
// only that conversation holds a live subscription.
type Room struct {
	viewer  string
	src     Source
	cache   *Cache
	logger  *slog.Logger
	updates chan Key
	lost    chan Key

	mu        sync.Mutex
	closed    bool
	key       Key
	recipient string
	feed      Feed
	pumpDone  chan struct{}
}

func NewRoom(viewer string, src Source, cache *Cache, logger *slog.Logger) *Room {
	if logger == nil {
		logger = slog.Default()
	}
	return &Room{
		viewer:  viewer,
		src:     src,
		cache:   cache,
		logger:  logger.With("viewer", viewer),
		updates: make(chan Key, 16),
		lost:    make(chan Key, 1),
	}
}

func (r *Room) Viewer() string { return r.viewer }

// Recipient returns the open conversation's other participant, or "".
func (r *Room) Recipient() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recipient
}

// Updates receives the key of the open conversation whenever a message was
// added to it. Notifications are coalesced when the reader falls behind.
func (r *Room) Updates() <-chan Key { return r.updates }

// Lost receives the key of the open conversation when its subscription
// ended without being closed. History stays readable; the next Open of the
// same recipient subscribes again.
func (r *Room) Lost() <-chan Key { return r.lost }

// Open switches to the conversation with recipient and returns its history,
// oldest first. The previous subscription is released first. The new one is
// established before history is read, so nothing committed in between is
// missed; overlap is removed by identity. A history fetch that failed
// earlier is retried.
func (r *Room) Open(ctx context.Context, recipient string) ([]domain.Message, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return nil, domain.Invalid("recipient", "Select a recipient before sending.")
	}
	key := NewKey(r.viewer, recipient)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if r.key == key && r.feed != nil {
		r.mu.Unlock()
		if r.cache.Failed(key) {
			return r.Refresh(ctx)
		}
		return r.Messages(ctx)
	}
	r.teardownLocked()
	r.key = key
	r.recipient = recipient
	r.mu.Unlock()

	feed, err := r.src.Watch(ctx, key)
	if err != nil {
		r.mu.Lock()
		if r.key == key && r.feed == nil {
			r.key, r.recipient = Key{}, ""
		}
		r.mu.Unlock()
		return nil, err
	}

	r.mu.Lock()
	if r.closed || r.key != key {
		r.mu.Unlock()
		_ = feed.Close()
		if r.closed {
			return nil, ErrClosed
		}
		return nil, context.Canceled
	}
	r.feed = feed
	done := make(chan struct{})
	r.pumpDone = done
	r.mu.Unlock()

	go r.pump(key, recipient, feed, done)
	r.logger.Info("conversation opened", "conversation", key.String())
	if r.cache.Failed(key) {
		return r.Refresh(ctx)
	}
	return r.Messages(ctx)
}

// Messages returns the open conversation's history, oldest first.
func (r *Room) Messages(ctx context.Context) ([]domain.Message, error) {
	r.mu.Lock()
	key := r.key
	r.mu.Unlock()
	if key.IsZero() {
		return []domain.Message{}, nil
	}
	msgs, err := r.cache.Get(ctx, key, func(ctx context.Context) ([]domain.Message, error) {
		return r.src.History(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return ForDisplay(msgs), nil
}

// Refresh refetches the open conversation's history.
func (r *Room) Refresh(ctx context.Context) ([]domain.Message, error) {
	r.mu.Lock()
	key := r.key
	r.mu.Unlock()
	if key.IsZero() {
		return []domain.Message{}, nil
	}
	msgs, err := r.cache.Refetch(ctx, key, func(ctx context.Context) ([]domain.Message, error) {
		return r.src.History(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return ForDisplay(msgs), nil
}

// Send posts body to the open conversation and adds the stored message to
// the cached history.
func (r *Room) Send(ctx context.Context, body string) (domain.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.Message{}, domain.Invalid("body", "Message body is required.")
	}
	r.mu.Lock()
	closed, key, recipient := r.closed, r.key, r.recipient
	r.mu.Unlock()
	if closed {
		return domain.Message{}, ErrClosed
	}
	if recipient == "" {
		return domain.Message{}, domain.Invalid("recipient", "Select a recipient before sending.")
	}
	msg, err := r.src.Send(ctx, domain.MessageInsert{
		SenderUserID:   r.viewer,
		ReceiverUserID: recipient,
		Body:           body,
	})
	if err != nil {
		return domain.Message{}, err
	}
	r.apply(key, msg)
	return msg, nil
}

// Close releases the subscription. The room cannot be reopened.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	done := r.teardownLocked()
	r.mu.Unlock()
	if done != nil {
		<-done
	}
	close(r.updates)
}

// teardownLocked closes the active feed and returns the pump's done channel.
func (r *Room) teardownLocked() chan struct{} {
	done := r.pumpDone
	if r.feed != nil {
		if err := r.feed.Close(); err != nil {
			r.logger.Debug("closing conversation feed", "err", err)
		}
		r.logger.Info("conversation closed", "conversation", r.key.String())
	}
	r.feed = nil
	r.pumpDone = nil
	r.key = Key{}
	r.recipient = ""
	return done
}

func (r *Room) pump(key Key, recipient string, feed Feed, done chan struct{}) {
	defer close(done)
	for m := range feed.Messages() {
		if !Contains(m, r.viewer, recipient) {
			continue
		}
		r.apply(key, m)
	}
	if err := feed.Err(); err != nil {
		r.logger.Warn("conversation feed ended", "conversation", key.String(), "err", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.feed != feed {
		return
	}
	r.feed = nil
	r.pumpDone = nil
	r.cache.Invalidate(key)
	select {
	case r.lost <- key:
	default:
	}
}

func (r *Room) apply(key Key, m domain.Message) {
	if !querycache.Patch(r.cache, key, m, HistoryLimit) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.key != key {
		return
	}
	select {
	case r.updates <- key:
	default:
	}
}
