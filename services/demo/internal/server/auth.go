package server

import (
	"net/http"

	"supashowcase/pkg/domain"
	"supashowcase/services/demo/internal/app"
)

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, ruleSignUp, "too many signup attempts") {
		s.audit(r, "demo.signup", "rate_limited")
		return
	}
	var req domain.SignUpDraft
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, "demo.signup", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.app.SignUp(r.Context(), req)
	if err != nil {
		s.audit(r, "demo.signup", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "demo.signup", "success", "user_id", res.Account.ID)
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, ruleSignIn, "too many login attempts") {
		s.audit(r, "demo.signin", "rate_limited")
		return
	}
	var req signInRequest
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, "demo.signin", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := s.app.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "demo.signin", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "demo.signin", "success", "user_id", session.User.ID)
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request, v app.Viewer) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.SignOut(r.Context(), v); err != nil {
		s.audit(r, "demo.signout", "fail", "user_id", v.ID, "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "demo.signout", "success", "user_id", v.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

// /api/auth/me: GET loads the signed-in view, PUT saves email and names.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, v app.Viewer) {
	switch r.Method {
	case http.MethodGet:
		me, err := s.app.Me(r.Context(), v)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, me)
	case http.MethodPut:
		var req domain.ProfileDraft
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		profile, err := s.app.SaveAccount(r.Context(), v, req)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"profile": profile})
	default:
		methodNotAllowed(w)
	}
}
