package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Table and bucket names on the platform.
const (
	TableBooks    = "book_store"
	TableProfiles = "profiles"
	TableMessages = "messages"

	AvatarBucket = "avatars"
)

// ID is a platform row identifier. Tables may use bigint or uuid keys, so
// both JSON numbers and strings are accepted and kept as text.
type ID string

// UnmarshalJSON accepts a JSON string or number.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

type Book struct {
	ID            ID        `json:"id"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	Genre         *string   `json:"genre"`
	PublishedYear *int      `json:"published_year"`
	CreatedAt     time.Time `json:"created_at"`
}

// Validate checks the fields every stored book carries.
func (b Book) Validate() error {
	if b.ID == "" {
		return errors.New("book id missing")
	}
	if strings.TrimSpace(b.Title) == "" || strings.TrimSpace(b.Author) == "" {
		return errors.New("book title and author required")
	}
	if b.CreatedAt.IsZero() {
		return errors.New("book created_at missing")
	}
	return nil
}

type BookInsert struct {
	Title         string  `json:"title"`
	Author        string  `json:"author"`
	Genre         *string `json:"genre"`
	PublishedYear *int    `json:"published_year"`
}

// BookUpdate only sends the fields that are set.
type BookUpdate struct {
	Title         *string `json:"title,omitempty"`
	Author        *string `json:"author,omitempty"`
	Genre         *string `json:"genre,omitempty"`
	PublishedYear *int    `json:"published_year,omitempty"`
}

type Profile struct {
	ID          string    `json:"id"`
	DisplayName *string   `json:"display_name"`
	Username    *string   `json:"username"`
	AvatarURL   *string   `json:"avatar_url"`
	Status      *string   `json:"status,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks the fields every stored profile carries.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("profile id missing")
	}
	return nil
}

// Avatar returns the stored avatar object path or "".
func (p Profile) Avatar() string {
	return deref(p.AvatarURL)
}

// Name returns the display name, falling back to the username.
func (p Profile) Name() string {
	if name := strings.TrimSpace(deref(p.DisplayName)); name != "" {
		return name
	}
	return strings.TrimSpace(deref(p.Username))
}

type Message struct {
	ID             ID        `json:"id"`
	SenderUserID   string    `json:"sender_user_id"`
	ReceiverUserID string    `json:"receiver_user_id"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate checks the fields every stored message carries.
func (m Message) Validate() error {
	switch {
	case m.ID == "":
		return errors.New("message id missing")
	case m.SenderUserID == "" || m.ReceiverUserID == "":
		return errors.New("message participants missing")
	case m.CreatedAt.IsZero():
		return errors.New("message created_at missing")
	}
	return nil
}

// Identity and Created let messages be patched into cached collections.
func (m Message) Identity() string   { return string(m.ID) }
func (m Message) Created() time.Time { return m.CreatedAt }

type MessageInsert struct {
	SenderUserID   string `json:"sender_user_id"`
	ReceiverUserID string `json:"receiver_user_id"`
	Body           string `json:"body"`
}

// Account is the auth user as reported by the platform.
type Account struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Validate checks the fields every account carries.
func (a Account) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("account id missing")
	}
	return nil
}

// MetadataString returns a string user metadata value or "".
func (a Account) MetadataString(key string) string {
	if a.UserMetadata == nil {
		return ""
	}
	v, _ := a.UserMetadata[key].(string)
	return v
}

type Session struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	TokenType    string  `json:"token_type"`
	ExpiresIn    int     `json:"expires_in"`
	ExpiresAt    int64   `json:"expires_at"`
	User         Account `json:"user"`
}

// FileObject is an entry returned by a storage listing.
type FileObject struct {
	Name      string         `json:"name"`
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  FileObjectMeta `json:"metadata"`
}

type FileObjectMeta struct {
	Size     int64  `json:"size"`
	Mimetype string `json:"mimetype"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StringPtr returns a pointer to s, or nil when s is empty after trimming.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
