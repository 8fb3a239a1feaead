package domain

import (
	"encoding/json"
	"testing"
)

func TestIDAcceptsNumberAndString(t *testing.T) {
	var b struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a": 42, "b": "9b1c", "c": null}`), &b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if b.A != "42" || b.B != "9b1c" || b.C != "" {
		t.Fatalf("unexpected ids: %+v", b)
	}
	var bad struct {
		A ID `json:"a"`
	}
	if err := json.Unmarshal([]byte(`{"a": true}`), &bad); err == nil {
		t.Fatalf("expected error for boolean id")
	}
}

func TestParseBookDraft(t *testing.T) {
	tests := []struct {
		name    string
		draft   BookDraft
		wantErr string
		year    int
	}{
		{name: "valid", draft: BookDraft{Title: " Dune ", Author: "Frank Herbert", PublishedYear: "1965"}, year: 1965},
		{name: "missing author", draft: BookDraft{Title: "Dune"}, wantErr: "Title and author are required."},
		{name: "bad year", draft: BookDraft{Title: "Dune", Author: "F", PublishedYear: "19x5"}, wantErr: "Published year must be a number."},
		{name: "blank year", draft: BookDraft{Title: "Dune", Author: "F", PublishedYear: "  "}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in, err := ParseBookDraft(tc.draft)
			if tc.wantErr != "" {
				if err == nil || err.Error() != tc.wantErr {
					t.Fatalf("err = %v, want %q", err, tc.wantErr)
				}
				if !IsValidation(err) {
					t.Fatalf("expected validation error, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if in.Title != "Dune" {
				t.Fatalf("title not trimmed: %q", in.Title)
			}
			if tc.year == 0 && in.PublishedYear != nil {
				t.Fatalf("expected nil year, got %d", *in.PublishedYear)
			}
			if tc.year != 0 && (in.PublishedYear == nil || *in.PublishedYear != tc.year) {
				t.Fatalf("year = %v, want %d", in.PublishedYear, tc.year)
			}
			if in.Genre != nil {
				t.Fatalf("blank genre should be null")
			}
		})
	}
}

func TestProfileUpdatePayloadOnlySetFields(t *testing.T) {
	p := ProfileUpdate{
		DisplayName: Value("Ada"),
		Status:      Value("  "),
		AvatarURL:   Null(),
	}.Payload("u1")
	if p["id"] != "u1" || p["display_name"] != "Ada" {
		t.Fatalf("unexpected payload: %v", p)
	}
	if v, ok := p["status"]; !ok || v != nil {
		t.Fatalf("blank status should be null, got %v (present=%v)", v, ok)
	}
	if v, ok := p["avatar_url"]; !ok || v != nil {
		t.Fatalf("avatar_url should be explicit null")
	}
	if _, ok := p["username"]; ok {
		t.Fatalf("username should be omitted")
	}
}

func TestSignUpDraftMetadata(t *testing.T) {
	d := SignUpDraft{Email: "a@b.c", Password: "pw", DisplayName: " Ada ", Username: ""}
	if err := d.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	meta := d.Metadata()
	if meta["display_name"] != "Ada" {
		t.Fatalf("display_name = %v", meta["display_name"])
	}
	if _, ok := meta["username"]; ok {
		t.Fatalf("blank username should be omitted")
	}
	if err := (SignUpDraft{Email: "a@b.c"}).Validate(); err == nil {
		t.Fatalf("expected missing password to fail")
	}
}
