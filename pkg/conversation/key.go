// Package conversation keeps one direct-message thread per viewer in sync
// with the platform: history comes from the query cache and new messages
// arrive through a realtime feed.
package conversation

import (
	"strings"

	"supashowcase/pkg/domain"
)

// HistoryLimit is the number of messages kept per conversation.
const HistoryLimit = 50

// Key names a conversation by its two participants regardless of who is
// viewing. The zero Key is no conversation.
type Key struct {
	a, b string
}

// NewKey returns the key for the pair {x, y}.
func NewKey(x, y string) Key {
	x, y = strings.TrimSpace(x), strings.TrimSpace(y)
	if y < x {
		x, y = y, x
	}
	return Key{a: x, b: y}
}

func (k Key) IsZero() bool { return k.a == "" && k.b == "" }

// Participants returns both account ids in canonical order.
func (k Key) Participants() (string, string) { return k.a, k.b }

// Other returns the participant that is not viewer.
func (k Key) Other(viewer string) string {
	if k.a == viewer {
		return k.b
	}
	return k.a
}

func (k Key) String() string { return "messages:" + k.a + ":" + k.b }

// Includes reports whether m was exchanged between the key's participants.
func (k Key) Includes(m domain.Message) bool {
	return Contains(m, k.a, k.b)
}

// Contains reports whether m belongs to the conversation between viewer and
// recipient, in either direction.
func Contains(m domain.Message, viewer, recipient string) bool {
	sent := m.SenderUserID == viewer && m.ReceiverUserID == recipient
	received := m.SenderUserID == recipient && m.ReceiverUserID == viewer
	return sent || received
}

// ForDisplay returns messages oldest first. Cached collections are stored
// newest first.
func ForDisplay(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out
}
