package api

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/usyd/webcrawler-rag/internal/auth"
)

type userDTO struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// login handles POST /login with form fields username and password. Browsers
// are redirected to /, JSON clients get the user back.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	user, err := s.auth.Authenticate(r.Context(), r.PostFormValue("username"), r.PostFormValue("password"))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid username or password")
			return
		}
		s.respondError(w, r, err, "log in")
		return
	}
	token, expires, err := s.auth.IssueToken(user)
	if err != nil {
		s.respondError(w, r, err, "log in")
		return
	}
	http.SetCookie(w, s.sessionCookie(token, expires))
	s.logger.Info("user logged in", zap.Int64("user_id", user.ID), zap.String("username", user.Username))

	if !wantsJSON(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"user":       userDTO{ID: user.ID, Username: user.Username},
		"token":      token,
		"expires_at": expires.UTC().Format(time.RFC3339),
	})
}

// logout handles GET /logout. A missing or invalid token still clears the
// cookie.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if id, err := s.identify(r); err == nil {
		if err := s.auth.Revoke(r.Context(), id); err != nil {
			s.logger.Warn("revoke token failed", zap.Int64("user_id", id.UserID), zap.Error(err))
		}
	}
	http.SetCookie(w, s.sessionCookie("", time.Unix(0, 0)))
	if !wantsJSON(r) {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// authStatus handles GET /api/auth/status. It always answers 200.
func (s *Server) authStatus(w http.ResponseWriter, r *http.Request) {
	id, err := s.identify(r)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user":          userDTO{ID: id.UserID, Username: id.Username},
	})
}

func (s *Server) sessionCookie(value string, expires time.Time) *http.Cookie {
	c := &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	}
	if value == "" {
		c.MaxAge = -1
	}
	return c
}
