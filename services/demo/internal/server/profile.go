package server

import (
	"errors"
	"mime"
	"net/http"
	"strings"

	"supashowcase/pkg/avatar"
	"supashowcase/pkg/domain"
	"supashowcase/services/demo/internal/app"
)

// /api/profile: GET loads the profile screen (?refresh=true refetches), PUT
// saves it. A multipart body may carry a new avatar in the "avatar" field.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, v app.Viewer) {
	switch r.Method {
	case http.MethodGet:
		load := s.app.Me
		if refreshing(r) {
			load = s.app.RefreshMe
		}
		me, err := load(r.Context(), v)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, me)
	case http.MethodPut, http.MethodPost:
		draft, file, err := readProfileForm(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if file != nil {
			if c, ok := file.Body.(interface{ Close() error }); ok {
				defer c.Close()
			}
		}
		res, err := s.app.SaveProfile(r.Context(), v, draft, file)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	default:
		methodNotAllowed(w)
	}
}

var errAvatarTooLarge = errors.New(avatar.MsgTooLarge)

func readProfileForm(w http.ResponseWriter, r *http.Request) (domain.ProfileDraft, *app.AvatarFile, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var draft domain.ProfileDraft
		if err := decodeJSON(r, &draft); err != nil {
			return domain.ProfileDraft{}, nil, errors.New("invalid JSON body")
		}
		return draft, nil, nil
	}
	if r.ContentLength > maxUploadBytes {
		return domain.ProfileDraft{}, nil, errAvatarTooLarge
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.ProfileDraft{}, nil, errAvatarTooLarge
		}
		return domain.ProfileDraft{}, nil, errors.New("invalid multipart form")
	}
	draft := domain.ProfileDraft{
		DisplayName: r.FormValue("displayName"),
		Username:    r.FormValue("username"),
		Status:      r.FormValue("status"),
		Email:       r.FormValue("email"),
	}
	f, header, err := r.FormFile("avatar")
	if errors.Is(err, http.ErrMissingFile) {
		return draft, nil, nil
	}
	if err != nil {
		return domain.ProfileDraft{}, nil, errors.New("invalid avatar file")
	}
	return draft, &app.AvatarFile{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        f,
	}, nil
}

func (s *Server) handleAvatars(w http.ResponseWriter, r *http.Request, v app.Viewer) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	list := s.app.Avatars
	if refreshing(r) {
		list = s.app.RefreshAvatars
	}
	items, err := list(r.Context(), v)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

type avatarRequest struct {
	Path string `json:"path"`
}

// /api/profile/avatar: POST makes an uploaded avatar current, DELETE
// removes one (?path=).
func (s *Server) handleAvatar(w http.ResponseWriter, r *http.Request, v app.Viewer) {
	switch r.Method {
	case http.MethodPost:
		var req avatarRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		profile, err := s.app.SelectAvatar(r.Context(), v, req.Path)
		if err != nil {
			s.audit(r, "demo.avatar.select", "fail", "user_id", v.ID, "reason", err.Error())
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"profile": profile})
	case http.MethodDelete:
		path := strings.TrimSpace(r.URL.Query().Get("path"))
		if path == "" {
			writeError(w, http.StatusBadRequest, "path is required")
			return
		}
		if err := s.app.RemoveAvatar(r.Context(), v, path); err != nil {
			s.audit(r, "demo.avatar.remove", "fail", "user_id", v.ID, "reason", err.Error())
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}
