package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"supashowcase/internal/usertoken"
	"supashowcase/internal/util"
	"supashowcase/pkg/storage"
	"supashowcase/pkg/supabase"
)

const (
	defaultExpirySeconds = 120
	maxExpirySeconds     = 3600
)

var errExpiry = fmt.Errorf("expiresIn must be an integer between 1 and %d.", maxExpirySeconds)

type signedURLResponse struct {
	Bucket    string `json:"bucket"`
	ExpiresIn int    `json:"expiresIn"`
	OK        bool   `json:"ok"`
	Path      string `json:"path"`
	SignedURL string `json:"signedUrl"`
}

// handleSignedURL issues a short-lived download URL for an object in the
// caller's own folder.
func (s *Server) handleSignedURL(w http.ResponseWriter, r *http.Request) {
	logger := util.LoggerFromContext(r.Context())
	if s.platform == nil || s.signer == nil {
		writeError(w, http.StatusInternalServerError, "Missing SUPABASE_URL or SUPABASE_ANON_KEY.")
		return
	}
	token, err := usertoken.BearerToken(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Missing Authorization bearer token.")
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	bucket := stringField(body, "bucket")
	if bucket == "" {
		writeError(w, http.StatusBadRequest, "bucket is required.")
		return
	}
	path := strings.TrimLeft(stringField(body, "path"), "/")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required.")
		return
	}

	if s.verifier != nil {
		if _, err := s.verifier.VerifySubject(token); err != nil {
			logger.Info("signed url rejected", "reason", "token", "err", err)
			writeError(w, http.StatusUnauthorized, "Invalid user session.")
			return
		}
	}
	account, err := s.platform.WithAccessToken(token).GetUser(r.Context())
	if err != nil {
		logger.Info("signed url rejected", "reason", "session", "err", err)
		writeError(w, http.StatusUnauthorized, "Invalid user session.")
		return
	}

	prefix := account.ID + "/"
	if !strings.HasPrefix(path, prefix) {
		logger.Warn("signed url outside user folder", "user_id", account.ID, "bucket", bucket, "path", path)
		writeError(w, http.StatusForbidden, fmt.Sprintf("path must start with %q to keep objects user-scoped.", prefix))
		return
	}

	expiresIn, err := parseExpiry(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	signed, err := s.signer.SignURL(r.Context(), token, bucket, path, time.Duration(expiresIn)*time.Second)
	if err != nil || signed == "" {
		writeError(w, http.StatusBadRequest, signingMessage(err))
		return
	}
	logger.Info("signed url issued", "user_id", account.ID, "bucket", bucket, "path", path, "expires_in", expiresIn)
	writeJSON(w, http.StatusOK, signedURLResponse{
		Bucket:    bucket,
		ExpiresIn: expiresIn,
		OK:        true,
		Path:      path,
		SignedURL: signed,
	})
}

// parseExpiry reads expiresIn with numeric coercion: absent or null means the
// default, numeric strings and booleans are converted, anything else must be
// a whole number in range.
func parseExpiry(body any) (int, error) {
	obj, _ := body.(map[string]any)
	raw, ok := obj["expiresIn"]
	if !ok || raw == nil {
		return defaultExpirySeconds, nil
	}
	var f float64
	switch v := raw.(type) {
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return 0, errExpiry
		}
		f = n
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return 0, errExpiry
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, errExpiry
		}
		f = n
	case bool:
		if v {
			f = 1
		}
	default:
		return 0, errExpiry
	}
	if f != math.Trunc(f) || f < 1 || f > maxExpirySeconds {
		return 0, errExpiry
	}
	return int(f), nil
}

func signingMessage(err error) string {
	if errors.Is(err, storage.ErrObjectNotFound) {
		return "Object not found"
	}
	var apiErr *supabase.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return "Failed to create signed URL."
}
