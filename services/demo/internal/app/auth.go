package app

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/errgroup"

	"supashowcase/pkg/avatar"
	"supashowcase/pkg/domain"
	"supashowcase/pkg/supabase"
)

const profileColumns = "id, display_name, username, avatar_url, status, created_at"

// SignUpResult carries the new account and, when the project confirms
// emails automatically, a session.
type SignUpResult struct {
	Account domain.Account  `json:"user"`
	Session *domain.Session `json:"session,omitempty"`
}

// SignUp registers an account with the optional display name and username
// stored as user metadata.
func (a *App) SignUp(ctx context.Context, d domain.SignUpDraft) (SignUpResult, error) {
	if err := d.Validate(); err != nil {
		return SignUpResult{}, err
	}
	acct, session, err := a.platform.WithAccessToken("").SignUp(ctx, d.Email, d.Password, d.Metadata())
	if err != nil {
		return SignUpResult{}, err
	}
	a.logger.Info("account created", "user_id", acct.ID, "session", session != nil)
	return SignUpResult{Account: acct, Session: session}, nil
}

// SignIn exchanges credentials for a session.
func (a *App) SignIn(ctx context.Context, email, password string) (domain.Session, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return domain.Session{}, domain.Invalid("email", "Email and password are required.")
	}
	return a.platform.WithAccessToken("").SignInWithPassword(ctx, email, password)
}

// SignOut revokes the viewer's session. The viewer's chat room is closed by
// the auth listener.
func (a *App) SignOut(ctx context.Context, v Viewer) error {
	return a.client(v).SignOut(ctx)
}

// Identify resolves an access token to a viewer.
func (a *App) Identify(ctx context.Context, token string) (Viewer, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Viewer{}, supabase.ErrNoSession
	}
	acct, err := a.platform.WithAccessToken(token).GetUser(ctx)
	if err != nil {
		return Viewer{}, err
	}
	return Viewer{ID: acct.ID, Email: acct.Email, Token: token}, nil
}

// Profile returns the viewer's profile row, or nil when none exists yet.
func (a *App) Profile(ctx context.Context, v Viewer) (*domain.Profile, error) {
	return a.profiles.Get(ctx, profileKey(v.ID), func(ctx context.Context) (*domain.Profile, error) {
		p, err := supabase.MaybeSingle[domain.Profile](ctx, a.client(v).From(domain.TableProfiles).
			Select(profileColumns).
			Eq("id", v.ID))
		if errors.Is(err, supabase.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &p, nil
	})
}

// Me is the signed-in view of the auth screen.
type Me struct {
	Account   domain.Account  `json:"user"`
	Profile   *domain.Profile `json:"profile"`
	Name      string          `json:"name"`
	Initials  string          `json:"initials"`
	Handle    string          `json:"handle"`
	AvatarURL string          `json:"avatarUrl,omitempty"`
}

// Me loads the account and profile together.
func (a *App) Me(ctx context.Context, v Viewer) (Me, error) {
	var (
		acct    domain.Account
		profile *domain.Profile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		acct, err = a.client(v).GetUser(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		profile, err = a.Profile(gctx, v)
		return err
	})
	if err := g.Wait(); err != nil {
		return Me{}, err
	}
	me := Me{Account: acct, Profile: profile}
	name := acct.MetadataString("display_name")
	username := acct.MetadataString("username")
	if profile != nil {
		if n := profile.Name(); n != "" {
			name = n
		}
		if profile.Username != nil {
			username = *profile.Username
		}
		me.AvatarURL = avatar.PublicURL(a.platform.URL(), a.avatarBucket, profile.Avatar())
	}
	if name == "" {
		name = acct.Email
	}
	me.Name = name
	me.Initials = avatar.Initials(name)
	me.Handle = avatar.Handle(username)
	return me, nil
}

// RefreshMe refetches the viewer's profile before loading Me.
func (a *App) RefreshMe(ctx context.Context, v Viewer) (Me, error) {
	a.profiles.Invalidate(profileKey(v.ID))
	return a.Me(ctx, v)
}

// SaveAccount changes the viewer's email when it differs and updates the
// profile's names.
func (a *App) SaveAccount(ctx context.Context, v Viewer, d domain.ProfileDraft) (*domain.Profile, error) {
	client := a.client(v)
	if err := a.changeEmail(ctx, client, v, d.Email); err != nil {
		return nil, err
	}
	update := domain.ProfileUpdate{
		DisplayName: domain.Value(d.DisplayName),
		Username:    domain.Value(d.Username),
	}
	payload := update.Payload(v.ID)
	delete(payload, "id")
	if err := client.From(domain.TableProfiles).Update(payload).Eq("id", v.ID).Exec(ctx); err != nil {
		return nil, err
	}
	a.profiles.Invalidate(profileKey(v.ID))
	return a.Profile(ctx, v)
}

func (a *App) changeEmail(ctx context.Context, client *supabase.Client, v Viewer, email string) error {
	email = strings.TrimSpace(email)
	if email == "" || strings.EqualFold(email, v.Email) {
		return nil
	}
	if _, err := client.UpdateUser(ctx, supabase.UserAttributes{Email: email}); err != nil {
		return err
	}
	a.logger.Info("account email changed", "user_id", v.ID)
	return nil
}
