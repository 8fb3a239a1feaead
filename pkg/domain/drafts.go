package domain

import (
	"errors"
	"strconv"
	"strings"
)

// ValidationError is a local input error detected before any remote call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Invalid builds a ValidationError.
func Invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// IsValidation reports whether err is a local validation error.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// BookDraft is the raw book form input.
type BookDraft struct {
	Title         string `json:"title"`
	Author        string `json:"author"`
	Genre         string `json:"genre"`
	PublishedYear string `json:"publishedYear"`
}

// ParseBookDraft trims and validates the draft.
func ParseBookDraft(d BookDraft) (BookInsert, error) {
	title := strings.TrimSpace(d.Title)
	author := strings.TrimSpace(d.Author)
	if title == "" || author == "" {
		return BookInsert{}, Invalid("title", "Title and author are required.")
	}
	var year *int
	if raw := strings.TrimSpace(d.PublishedYear); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return BookInsert{}, Invalid("publishedYear", "Published year must be a number.")
		}
		year = &n
	}
	return BookInsert{
		Title:         title,
		Author:        author,
		Genre:         StringPtr(d.Genre),
		PublishedYear: year,
	}, nil
}

// BookFromDraft converts a draft into a full update payload.
func BookFromDraft(d BookDraft) (BookUpdate, error) {
	in, err := ParseBookDraft(d)
	if err != nil {
		return BookUpdate{}, err
	}
	return BookUpdate{
		Title:         &in.Title,
		Author:        &in.Author,
		Genre:         in.Genre,
		PublishedYear: in.PublishedYear,
	}, nil
}

// Field is a tri-state profile column: untouched, null, or a value.
type Field struct {
	Set   bool
	Value *string
}

// Value sets the column, storing null for blank input.
func Value(s string) Field { return Field{Set: true, Value: StringPtr(s)} }

// Null clears the column.
func Null() Field { return Field{Set: true} }

// ProfileUpdate lists the profile columns to write.
type ProfileUpdate struct {
	DisplayName Field
	Username    Field
	Status      Field
	AvatarURL   Field
}

// Payload builds the upsert body; only set fields are included.
func (u ProfileUpdate) Payload(userID string) map[string]any {
	out := map[string]any{"id": userID}
	put := func(col string, f Field) {
		if !f.Set {
			return
		}
		if f.Value == nil {
			out[col] = nil
			return
		}
		out[col] = *f.Value
	}
	put("display_name", u.DisplayName)
	put("username", u.Username)
	put("status", u.Status)
	put("avatar_url", u.AvatarURL)
	return out
}

// ProfileDraft is the raw profile form input.
type ProfileDraft struct {
	DisplayName string `json:"displayName"`
	Username    string `json:"username"`
	Status      string `json:"status"`
	Email       string `json:"email"`
}

// SignUpDraft is the raw sign-up form input.
type SignUpDraft struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	Username    string `json:"username"`
}

// Validate checks required credentials.
func (d SignUpDraft) Validate() error {
	if strings.TrimSpace(d.Email) == "" || d.Password == "" {
		return Invalid("email", "Email and password are required.")
	}
	return nil
}

// Metadata returns the non-empty user metadata sent on sign-up.
func (d SignUpDraft) Metadata() map[string]any {
	meta := map[string]any{}
	if v := strings.TrimSpace(d.DisplayName); v != "" {
		meta["display_name"] = v
	}
	if v := strings.TrimSpace(d.Username); v != "" {
		meta["username"] = v
	}
	return meta
}
