package conversation

import (
	"context"
	"errors"
	"log/slog"

	"supashowcase/pkg/domain"
	"supashowcase/pkg/supabase"
)

// Feed delivers newly inserted messages. The channel closes when the feed
// ends; Err then reports why, or nil when it was closed on purpose.
type Feed interface {
	Messages() <-chan domain.Message
	Err() error
	Close() error
}

// Source is the remote side of a conversation.
type Source interface {
	// History returns the latest messages of k, newest first.
	History(ctx context.Context, k Key) ([]domain.Message, error)
	Send(ctx context.Context, in domain.MessageInsert) (domain.Message, error)
	// Watch subscribes to message inserts. The platform does not filter by
	// conversation; k only names the channel.
	Watch(ctx context.Context, k Key) (Feed, error)
}

const messageColumns = "id, sender_user_id, receiver_user_id, body, created_at"

// PlatformSource reads and writes messages through a platform client scoped
// to the viewer's session.
type PlatformSource struct {
	Client *supabase.Client
	Logger *slog.Logger
}

func (s PlatformSource) History(ctx context.Context, k Key) ([]domain.Message, error) {
	a, b := k.Participants()
	return supabase.List[domain.Message](ctx, s.Client.From(domain.TableMessages).
		Select(messageColumns).
		Or(supabase.ConversationFilter(a, b)).
		Order("created_at", false).
		Limit(HistoryLimit))
}

func (s PlatformSource) Send(ctx context.Context, in domain.MessageInsert) (domain.Message, error) {
	return supabase.Single[domain.Message](ctx, s.Client.From(domain.TableMessages).
		Insert(in).
		Select(messageColumns))
}

func (s PlatformSource) Watch(ctx context.Context, k Key) (Feed, error) {
	sub, err := s.Client.Subscribe(ctx, supabase.ChannelConfig{
		Topic: k.String(),
		Table: domain.TableMessages,
		Event: "INSERT",
	})
	if err != nil {
		return nil, err
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	f := &platformFeed{sub: sub, out: make(chan domain.Message, 16), logger: logger}
	go f.run()
	return f, nil
}

type platformFeed struct {
	sub    *supabase.Subscription
	out    chan domain.Message
	logger *slog.Logger
}

func (f *platformFeed) run() {
	defer close(f.out)
	for ev := range f.sub.Events() {
		if ev.Type != "INSERT" {
			continue
		}
		m, err := supabase.DecodeChange[domain.Message](ev)
		if err != nil {
			f.logger.Warn("dropping malformed message event", "err", err)
			continue
		}
		select {
		case f.out <- m:
		case <-f.sub.Done():
			return
		}
	}
}

func (f *platformFeed) Messages() <-chan domain.Message { return f.out }
func (f *platformFeed) Close() error                    { return f.sub.Close() }

func (f *platformFeed) Err() error {
	if err := f.sub.Err(); !errors.Is(err, supabase.ErrSubscriptionClosed) {
		return err
	}
	return nil
}
