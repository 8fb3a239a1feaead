package server

import (
	"net/http"
	"strconv"

	"supashowcase/internal/usertoken"
	"supashowcase/services/demo/internal/app"
)

// handleHello invokes hello-world, as the caller when a token is sent.
func (s *Server) handleHello(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var viewer *app.Viewer
	if _, err := usertoken.BearerToken(r); err == nil {
		v, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		viewer = &v
	}
	var form app.HelloForm
	if err := decodeJSON(r, &form); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	reply, err := s.app.Hello(r.Context(), viewer, form)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleSignedURL(w http.ResponseWriter, r *http.Request, v app.Viewer) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req signedURLRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	reply, err := s.app.SignedURL(r.Context(), v, req.form())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "demo.signed_url", "success", "user_id", v.ID, "bucket", reply.Bucket)
	writeJSON(w, http.StatusOK, reply)
}

// signedURLRequest accepts expiresIn as a number or a string.
type signedURLRequest struct {
	Bucket    string `json:"bucket"`
	Path      string `json:"path"`
	ExpiresIn any    `json:"expiresIn"`
}

func (r signedURLRequest) form() app.SignedURLForm {
	f := app.SignedURLForm{Bucket: r.Bucket, Path: r.Path}
	switch v := r.ExpiresIn.(type) {
	case string:
		f.ExpiresIn = v
	case float64:
		f.ExpiresIn = strconv.FormatFloat(v, 'f', -1, 64)
	case bool, map[string]any, []any:
		f.ExpiresIn = "invalid"
	}
	return f
}
