package avatar

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"supashowcase/pkg/domain"
)

// 1x1 transparent PNG.
var pngBytes = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func TestPublicURL(t *testing.T) {
	got := PublicURL("https://proj.example.co/", "avatars", "u1/123-me.png")
	want := "https://proj.example.co/storage/v1/object/public/avatars/u1/123-me.png"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if !strings.Contains(got, "avatars") || !strings.Contains(got, "u1/123-me.png") {
		t.Fatalf("url must contain bucket and path verbatim")
	}
	if PublicURL("https://proj.example.co", "avatars", "") != "" {
		t.Fatalf("empty path must give no url")
	}
}

func TestInitials(t *testing.T) {
	cases := map[string]string{
		"Ada Lovelace":          "AL",
		"ada":                   "A",
		"":                      "?",
		"   ":                   "?",
		"grace brewster hopper": "GB",
		"élodie  durand":        "ÉD",
	}
	for in, want := range cases {
		if got := Initials(in); got != want {
			t.Fatalf("Initials(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHandle(t *testing.T) {
	if Handle("ada") != "@ada" || Handle("  ") != "No username" {
		t.Fatalf("unexpected handles")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		in   Upload
		want string
	}{
		{"png", Upload{Filename: "me.png", ContentType: "image/png", Size: int64(len(pngBytes)), Head: pngBytes}, ""},
		{"extension only", Upload{Filename: "me.jpg", Size: 1024}, ""},
		{"too large", Upload{Filename: "big.png", ContentType: "image/png", Size: 10 << 20}, MsgTooLarge},
		{"text file", Upload{Filename: "notes.txt", ContentType: "text/plain", Size: 12}, MsgNotImage},
		{"text by extension", Upload{Filename: "notes.txt", Size: 12}, MsgNotImage},
		{"disguised text", Upload{Filename: "x.png", ContentType: "image/png", Size: 5, Head: []byte("hello")}, MsgNotImage},
		{"sniffed png", Upload{Filename: "blob", ContentType: "application/octet-stream", Size: 67, Head: pngBytes}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.in)
			if tc.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tc.want || !domain.IsValidation(err) {
				t.Fatalf("expected %q, got %v", tc.want, err)
			}
		})
	}
}

func TestInspectReplaysContent(t *testing.T) {
	u, r, err := Inspect("me.png", "", int64(len(pngBytes)), bytes.NewReader(pngBytes))
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if u.DetectedType() != "image/png" {
		t.Fatalf("unexpected type %q", u.DetectedType())
	}
	all, _ := io.ReadAll(r)
	if !bytes.Equal(all, pngBytes) {
		t.Fatalf("replayed content differs")
	}
}

func TestObjectPath(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	cases := []struct {
		filename, want string
	}{
		{"My Photo (1).PNG", "u1/1700000000123-My_Photo__1_.PNG"},
		{"ok-name_1.jpg", "u1/1700000000123-ok-name_1.jpg"},
		{"", "u1/1700000000123-avatar.png"},
	}
	for _, tc := range cases {
		if got := ObjectPath("u1", tc.filename, now); got != tc.want {
			t.Fatalf("ObjectPath(%q) = %q, want %q", tc.filename, got, tc.want)
		}
	}
	if !BelongsTo("u1/x.png", "u1") || BelongsTo("u2/x.png", "u1") || BelongsTo("u1x.png", "u1") {
		t.Fatalf("BelongsTo mismatch")
	}
}
