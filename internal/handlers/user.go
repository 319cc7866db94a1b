package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/quizgrid/quizgrid/internal/auth"
	"github.com/quizgrid/quizgrid/internal/database"
	"github.com/quizgrid/quizgrid/internal/models"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CreateUserHandler registers a new user.
func (s *Server) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}

	user := models.User{Username: req.Username, Password: req.Password}
	if err := s.Store.CreateUser(r.Context(), &user); err != nil {
		s.Log.WithError(err).WithField("username", req.Username).Warn("user creation failed")
		http.Error(w, "failed to create user", http.StatusConflict)
		return
	}

	user.Password = ""
	writeJSON(w, http.StatusOK, user)
}

// LoginHandler verifies credentials and sets the auth_token cookie.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if err := s.Store.Authenticate(r.Context(), req.Username, req.Password); err != nil {
		if errors.Is(err, database.ErrBadCredentials) {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		s.Log.WithError(err).Error("login failed")
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	token, err := auth.CreateToken(req.Username)
	if err != nil {
		s.Log.WithError(err).Error("token creation failed")
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
	})
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
