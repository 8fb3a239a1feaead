package app

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"supashowcase/pkg/avatar"
	"supashowcase/pkg/conversation"
	"supashowcase/pkg/domain"
	"supashowcase/pkg/supabase"
)

// Contact is a profile as shown in the recipient picker.
type Contact struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Handle    string `json:"handle"`
	Initials  string `json:"initials"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

func (a *App) contact(p domain.Profile) Contact {
	name := p.Name()
	if name == "" {
		name = "Unknown user"
	}
	username := ""
	if p.Username != nil {
		username = *p.Username
	}
	return Contact{
		ID:        p.ID,
		Name:      name,
		Handle:    avatar.Handle(username),
		Initials:  avatar.Initials(p.Name()),
		AvatarURL: avatar.PublicURL(a.platform.URL(), a.avatarBucket, p.Avatar()),
	}
}

// Recipients lists everyone the viewer can message, by display name.
func (a *App) Recipients(ctx context.Context, v Viewer) ([]Contact, error) {
	profiles, err := a.recipients.Get(ctx, recipientsKey(v.ID), func(ctx context.Context) ([]domain.Profile, error) {
		return supabase.List[domain.Profile](ctx, a.client(v).From(domain.TableProfiles).
			Select(profileColumns).
			Order("display_name", true))
	})
	if err != nil {
		return nil, err
	}
	out := make([]Contact, 0, len(profiles))
	for _, p := range profiles {
		if p.ID == v.ID {
			continue
		}
		out = append(out, a.contact(p))
	}
	return out, nil
}

// RefreshRecipients refetches the recipient list.
func (a *App) RefreshRecipients(ctx context.Context, v Viewer) ([]Contact, error) {
	a.recipients.Invalidate(recipientsKey(v.ID))
	return a.Recipients(ctx, v)
}

// Participants looks up the profiles of ids.
func (a *App) Participants(ctx context.Context, v Viewer, ids []string) (map[string]Contact, error) {
	seen := make(map[string]bool, len(ids))
	var want []string
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" && !seen[id] {
			seen[id] = true
			want = append(want, id)
		}
	}
	out := make(map[string]Contact, len(want))
	if len(want) == 0 {
		return out, nil
	}
	profiles, err := supabase.List[domain.Profile](ctx, a.client(v).From(domain.TableProfiles).
		Select(profileColumns).
		In("id", want))
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		out[p.ID] = a.contact(p)
	}
	return out, nil
}

// Room returns the viewer's chat room, replacing it when the viewer's
// token changed since it was created.
func (a *App) Room(v Viewer) *conversation.Room {
	a.mu.Lock()
	defer a.mu.Unlock()
	if vr, ok := a.rooms[v.ID]; ok {
		if vr.token == v.Token {
			return vr.room
		}
		go vr.room.Close()
	}
	src := conversation.PlatformSource{Client: a.client(v), Logger: a.logger}
	room := conversation.NewRoom(v.ID, src, a.messages, a.logger)
	a.rooms[v.ID] = &viewerRoom{token: v.Token, room: room}
	return room
}

// HasRoom reports whether viewerID currently holds a chat room.
func (a *App) HasRoom(viewerID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.rooms[viewerID]
	return ok
}

func (a *App) closeRoom(viewerID string) {
	a.mu.Lock()
	vr, ok := a.rooms[viewerID]
	delete(a.rooms, viewerID)
	a.mu.Unlock()
	if ok {
		vr.room.Close()
	}
}

// Conversation is the chat screen with one recipient open.
type Conversation struct {
	Recipient  string           `json:"recipient"`
	Recipients []Contact        `json:"recipients"`
	Messages   []domain.Message `json:"messages"`
}

// OpenConversation switches the viewer's room to recipient, loading the
// recipient list alongside.
func (a *App) OpenConversation(ctx context.Context, v Viewer, recipient string) (Conversation, error) {
	room := a.Room(v)
	var out Conversation
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		contacts, err := a.Recipients(gctx, v)
		out.Recipients = contacts
		return err
	})
	g.Go(func() error {
		msgs, err := room.Open(gctx, recipient)
		out.Messages = msgs
		return err
	})
	if err := g.Wait(); err != nil {
		return Conversation{}, err
	}
	out.Recipient = room.Recipient()
	return out, nil
}

// Messages returns the open conversation, oldest first.
func (a *App) Messages(ctx context.Context, v Viewer) ([]domain.Message, error) {
	return a.Room(v).Messages(ctx)
}

// RefreshConversation drops the cached history with recipient and the
// recipient list, then opens the conversation.
func (a *App) RefreshConversation(ctx context.Context, v Viewer, recipient string) (Conversation, error) {
	a.recipients.Invalidate(recipientsKey(v.ID))
	if recipient = strings.TrimSpace(recipient); recipient != "" {
		a.messages.Invalidate(conversation.NewKey(v.ID, recipient))
	}
	return a.OpenConversation(ctx, v, recipient)
}

// RefreshMessages refetches the open conversation.
func (a *App) RefreshMessages(ctx context.Context, v Viewer) ([]domain.Message, error) {
	return a.Room(v).Refresh(ctx)
}

// SendMessage posts body to the viewer's open conversation.
func (a *App) SendMessage(ctx context.Context, v Viewer, body string) (domain.Message, error) {
	return a.Room(v).Send(ctx, body)
}
