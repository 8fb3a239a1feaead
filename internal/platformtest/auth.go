package platformtest

import (
	"net/http"
	"strings"
)

func authError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"code": status, "error_code": code, "msg": msg})
}

func (s *Server) sessionJSON(u *user) (map[string]any, error) {
	token, err := s.issueToken(u)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"access_token":  token,
		"token_type":    "bearer",
		"expires_in":    int(tokenTTL.Seconds()),
		"refresh_token": "refresh-" + u.ID,
		"user":          userJSON(u),
	}, nil
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string         `json:"email"`
		Password string         `json:"password"`
		Data     map[string]any `json:"data"`
	}
	if err := readJSON(r, &req); err != nil {
		authError(w, http.StatusBadRequest, "bad_json", "Could not parse request body as JSON")
		return
	}
	if len(req.Password) < 6 {
		authError(w, http.StatusUnprocessableEntity, "weak_password", "Password should be at least 6 characters.")
		return
	}
	s.mu.Lock()
	u, err := s.createUserLocked(req.Email, req.Password, req.Data)
	s.mu.Unlock()
	if err != nil {
		authError(w, http.StatusUnprocessableEntity, "user_already_exists", err.Error())
		return
	}
	if !s.AutoConfirm {
		writeJSON(w, http.StatusOK, userJSON(u))
		return
	}
	body, err := s.sessionJSON(u)
	if err != nil {
		authError(w, http.StatusInternalServerError, "unexpected_failure", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("grant_type") != "password" {
		authError(w, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant type")
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &req); err != nil {
		authError(w, http.StatusBadRequest, "bad_json", "Could not parse request body as JSON")
		return
	}
	s.mu.Lock()
	u, ok := s.users[strings.ToLower(strings.TrimSpace(req.Email))]
	s.mu.Unlock()
	if !ok || u.Password != req.Password {
		authError(w, http.StatusBadRequest, "invalid_credentials", "Invalid login credentials")
		return
	}
	body, err := s.sessionJSON(u)
	if err != nil {
		authError(w, http.StatusInternalServerError, "unexpected_failure", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	u, err := s.caller(r)
	if err != nil || u == nil {
		authError(w, http.StatusUnauthorized, "no_authorization", "This endpoint requires a Bearer token")
		return
	}
	raw := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	s.mu.Lock()
	s.revoked[raw] = true
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.caller(r)
	if err != nil || u == nil {
		authError(w, http.StatusUnauthorized, "bad_jwt", "invalid JWT: unable to parse or verify signature")
		return
	}
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		var req struct {
			Email    string         `json:"email"`
			Password string         `json:"password"`
			Data     map[string]any `json:"data"`
		}
		if err := readJSON(r, &req); err != nil {
			authError(w, http.StatusBadRequest, "bad_json", "Could not parse request body as JSON")
			return
		}
		s.mu.Lock()
		if email := strings.ToLower(strings.TrimSpace(req.Email)); email != "" && email != u.Email {
			if _, taken := s.users[email]; taken {
				s.mu.Unlock()
				authError(w, http.StatusUnprocessableEntity, "email_exists", "A user with this email address has already been registered")
				return
			}
			delete(s.users, u.Email)
			u.Email = email
			s.users[email] = u
		}
		if req.Password != "" {
			u.Password = req.Password
		}
		for k, v := range req.Data {
			if u.Metadata == nil {
				u.Metadata = map[string]any{}
			}
			u.Metadata[k] = v
		}
		s.mu.Unlock()
	default:
		authError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	s.mu.Lock()
	body := userJSON(u)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, body)
}
