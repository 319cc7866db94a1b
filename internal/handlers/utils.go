package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/quizgrid/quizgrid/internal/auth"
)

var errNoToken = errors.New("no auth token")

// extractCookieToken pulls a named cookie value out of the Cookie header.
func extractCookieToken(cookieHeader, cookieName string) string {
	parts := strings.Split(cookieHeader, cookieName+"=")
	if len(parts) < 2 {
		return ""
	}
	token := parts[1]
	if idx := strings.Index(token, ";"); idx != -1 {
		token = token[:idx]
	}
	return token
}

// requireUser resolves the authenticated username from the auth_token
// cookie.
func (s *Server) requireUser(r *http.Request) (string, error) {
	token := extractCookieToken(r.Header.Get("Cookie"), "auth_token")
	if token == "" {
		return "", errNoToken
	}
	return auth.VerifyToken(token)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
