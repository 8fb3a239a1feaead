// Package avatar resolves stored avatar paths to URLs and validates uploads
// before they reach storage.
package avatar

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/gabriel-vasile/mimetype"

	"supashowcase/pkg/domain"
	"supashowcase/pkg/supabase"
)

// MaxSize is the largest accepted upload.
const MaxSize = 5 << 20

const (
	MsgNotImage = "Please select an image file."
	MsgTooLarge = "Image must be smaller than 5MB."
)

// sniffLen is how many leading bytes are inspected for the content type.
const sniffLen = 3072

var unsafeChars = regexp.MustCompile(`(?i)[^a-z0-9.\-_]`)

// PublicURL returns the public URL for path, or "" when there is no avatar.
func PublicURL(baseURL, bucket, path string) string {
	return supabase.PublicObjectURL(baseURL, bucket, path)
}

// Upload describes a file selected for upload.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	// Head holds the first bytes of the file, if available.
	Head []byte
}

// Inspect reads the head of r for content sniffing and returns an Upload
// together with a reader that replays the full content.
func Inspect(filename, contentType string, size int64, r io.Reader) (Upload, io.Reader, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Upload{}, nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	u := Upload{Filename: filename, ContentType: contentType, Size: size, Head: head}
	return u, io.MultiReader(bytes.NewReader(head), r), nil
}

// DetectedType returns the best known content type: the declared one, else
// the one implied by the extension, else the sniffed one.
func (u Upload) DetectedType() string {
	if ct := mediaType(u.ContentType); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	if ct := mediaType(mime.TypeByExtension(strings.ToLower(filepath.Ext(u.Filename)))); ct != "" {
		return ct
	}
	if len(u.Head) > 0 {
		return mediaType(mimetype.Detect(u.Head).String())
	}
	return ""
}

// Validate rejects non-image content and files over MaxSize. It never
// touches the network.
func Validate(u Upload) error {
	if !strings.HasPrefix(u.DetectedType(), "image/") {
		return domain.Invalid("avatar", MsgNotImage)
	}
	if len(u.Head) > 0 && !strings.HasPrefix(mimetype.Detect(u.Head).String(), "image/") {
		return domain.Invalid("avatar", MsgNotImage)
	}
	if u.Size > MaxSize {
		return domain.Invalid("avatar", MsgTooLarge)
	}
	return nil
}

// ObjectPath names a new avatar object under the user's folder.
func ObjectPath(userID, filename string, now time.Time) string {
	cleaned := unsafeChars.ReplaceAllString(filename, "_")
	if cleaned == "" {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
		if ext == "" {
			ext = "png"
		}
		cleaned = "avatar." + ext
	}
	return fmt.Sprintf("%s/%d-%s", userID, now.UnixMilli(), cleaned)
}

// BelongsTo reports whether path lives in userID's folder.
func BelongsTo(path, userID string) bool {
	return userID != "" && strings.HasPrefix(path, userID+"/")
}

// Initials returns the uppercased first letters of up to two words of name,
// or "?" when name is blank.
func Initials(name string) string {
	fields := strings.FieldsFunc(name, unicode.IsSpace)
	if len(fields) == 0 {
		return "?"
	}
	var b strings.Builder
	for _, f := range fields[:min(2, len(fields))] {
		r := []rune(f)
		b.WriteRune(r[0])
	}
	return strings.ToUpper(b.String())
}

// Handle formats a username for display.
func Handle(username string) string {
	username = strings.TrimSpace(username)
	if username == "" {
		return "No username"
	}
	return "@" + username
}

func mediaType(ct string) string {
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mt
}
