package app

import (
	"context"
	"io"
	"strings"
	"time"

	"supashowcase/pkg/avatar"
	"supashowcase/pkg/domain"
	"supashowcase/pkg/supabase"
)

// MsgPreviousAvatarKept is reported when a replaced avatar could not be
// removed after a successful save.
const MsgPreviousAvatarKept = "Profile saved, but previous avatar could not be deleted."

// AvatarFile is an image chosen for upload.
type AvatarFile struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// SaveProfileResult is the stored profile plus a non-fatal warning.
type SaveProfileResult struct {
	Profile   *domain.Profile `json:"profile"`
	AvatarURL string          `json:"avatarUrl,omitempty"`
	Warning   string          `json:"warning,omitempty"`
}

// SaveProfile writes the profile form, uploading file first when given.
// The file is validated before any request is made. If the profile write
// fails the fresh upload is removed; if it succeeds the avatar it replaced
// is removed.
func (a *App) SaveProfile(ctx context.Context, v Viewer, d domain.ProfileDraft, file *AvatarFile) (SaveProfileResult, error) {
	var (
		upload avatar.Upload
		body   io.Reader
	)
	if file != nil {
		var err error
		upload, body, err = avatar.Inspect(file.Filename, file.ContentType, file.Size, file.Body)
		if err != nil {
			return SaveProfileResult{}, err
		}
		if err := avatar.Validate(upload); err != nil {
			return SaveProfileResult{}, err
		}
	}

	current, err := a.Profile(ctx, v)
	if err != nil {
		return SaveProfileResult{}, err
	}
	previous := ""
	if current != nil {
		previous = current.Avatar()
	}

	client := a.client(v)
	bucket := client.Storage(a.avatarBucket)
	avatarPath := previous
	uploaded := ""
	if file != nil {
		avatarPath = avatar.ObjectPath(v.ID, upload.Filename, a.now())
		contentType := upload.DetectedType()
		if contentType == "" {
			contentType = "image/*"
		}
		if err := bucket.Upload(ctx, avatarPath, body, upload.Size, contentType, false); err != nil {
			return SaveProfileResult{}, err
		}
		uploaded = avatarPath
	}

	profile, err := a.writeProfile(ctx, client, v, d, avatarPath)
	if err != nil {
		if uploaded != "" {
			if rmErr := bucket.Remove(context.WithoutCancel(ctx), uploaded); rmErr != nil {
				a.logger.Debug("discarding orphaned avatar failed", "path", uploaded, "err", rmErr)
			}
		}
		return SaveProfileResult{}, err
	}

	res := SaveProfileResult{Profile: profile, AvatarURL: avatar.PublicURL(a.platform.URL(), a.avatarBucket, profile.Avatar())}
	if uploaded != "" && previous != "" && previous != uploaded {
		if err := bucket.Remove(ctx, previous); err != nil {
			a.logger.Warn("previous avatar not deleted", "user_id", v.ID, "path", previous, "err", err)
			res.Warning = MsgPreviousAvatarKept
		}
	}
	a.profiles.Set(profileKey(v.ID), profile)
	a.avatars.Invalidate(avatarsKey(v.ID))
	a.recipients.Invalidate(recipientsKey(v.ID))
	return res, nil
}

func (a *App) writeProfile(ctx context.Context, client *supabase.Client, v Viewer, d domain.ProfileDraft, avatarPath string) (*domain.Profile, error) {
	if err := a.changeEmail(ctx, client, v, d.Email); err != nil {
		return nil, err
	}
	update := domain.ProfileUpdate{
		DisplayName: domain.Value(d.DisplayName),
		Username:    domain.Value(d.Username),
		Status:      domain.Value(d.Status),
		AvatarURL:   domain.Value(avatarPath),
	}
	p, err := supabase.Single[domain.Profile](ctx, client.From(domain.TableProfiles).
		Upsert(update.Payload(v.ID)).
		Select(profileColumns))
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// AvatarItem is one stored avatar of the viewer.
type AvatarItem struct {
	Path      string    `json:"path"`
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
	Current   bool      `json:"current"`
}

// Avatars lists the viewer's uploaded avatars, newest first.
func (a *App) Avatars(ctx context.Context, v Viewer) ([]AvatarItem, error) {
	objects, err := a.avatars.Get(ctx, avatarsKey(v.ID), func(ctx context.Context) ([]domain.FileObject, error) {
		return a.client(v).Storage(a.avatarBucket).List(ctx, v.ID, supabase.ListOptions{
			Limit:      avatarListLimit,
			SortBy:     "created_at",
			Descending: true,
		})
	})
	if err != nil {
		return nil, err
	}
	profile, err := a.Profile(ctx, v)
	if err != nil {
		return nil, err
	}
	current := ""
	if profile != nil {
		current = profile.Avatar()
	}
	items := make([]AvatarItem, 0, len(objects))
	for _, obj := range objects {
		if obj.ID == "" {
			continue // folder placeholder
		}
		path := v.ID + "/" + obj.Name
		items = append(items, AvatarItem{
			Path:      path,
			URL:       avatar.PublicURL(a.platform.URL(), a.avatarBucket, path),
			Size:      obj.Metadata.Size,
			CreatedAt: obj.CreatedAt,
			Current:   path == current,
		})
	}
	return items, nil
}

// RefreshAvatars refetches the avatar list and the profile it marks.
func (a *App) RefreshAvatars(ctx context.Context, v Viewer) ([]AvatarItem, error) {
	a.avatars.Invalidate(avatarsKey(v.ID))
	a.profiles.Invalidate(profileKey(v.ID))
	return a.Avatars(ctx, v)
}

// RemoveAvatar deletes one of the viewer's avatars, clearing the profile's
// avatar when it was the current one.
func (a *App) RemoveAvatar(ctx context.Context, v Viewer, path string) error {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if !avatar.BelongsTo(path, v.ID) {
		return ErrForeignObject
	}
	client := a.client(v)
	if err := client.Storage(a.avatarBucket).Remove(ctx, path); err != nil {
		return err
	}
	a.avatars.Invalidate(avatarsKey(v.ID))
	profile, err := a.Profile(ctx, v)
	if err != nil {
		return err
	}
	if profile != nil && profile.Avatar() == path {
		update := domain.ProfileUpdate{AvatarURL: domain.Null()}
		payload := update.Payload(v.ID)
		delete(payload, "id")
		if err := client.From(domain.TableProfiles).Update(payload).Eq("id", v.ID).Exec(ctx); err != nil {
			return err
		}
		a.profiles.Invalidate(profileKey(v.ID))
	}
	return nil
}

// SelectAvatar makes an already uploaded avatar the current one.
func (a *App) SelectAvatar(ctx context.Context, v Viewer, path string) (*domain.Profile, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if !avatar.BelongsTo(path, v.ID) {
		return nil, ErrForeignObject
	}
	update := domain.ProfileUpdate{AvatarURL: domain.Value(path)}
	p, err := supabase.Single[domain.Profile](ctx, a.client(v).From(domain.TableProfiles).
		Upsert(update.Payload(v.ID)).
		Select(profileColumns))
	if err != nil {
		return nil, err
	}
	a.profiles.Set(profileKey(v.ID), &p)
	return &p, nil
}
