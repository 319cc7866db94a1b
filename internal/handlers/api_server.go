// Package handlers exposes the match service over HTTP and WebSocket.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quizgrid/quizgrid/internal/database"
	"github.com/quizgrid/quizgrid/internal/lobby"
	"github.com/quizgrid/quizgrid/internal/session"
	"github.com/quizgrid/quizgrid/internal/supervisor"
)

// Server bundles the supervisor, the session registry and the user store
// behind the HTTP surface.
type Server struct {
	Log      *logrus.Logger
	Store    *database.Store
	Sup      *supervisor.Supervisor
	Sessions *session.Registry
}

func NewServer(log *logrus.Logger, store *database.Store, sup *supervisor.Supervisor, sessions *session.Registry) *Server {
	return &Server{Log: log, Store: store, Sup: sup, Sessions: sessions}
}

type createMatchRequest struct {
	Mode          string `json:"mode"` // "single" or "multi"
	MatchID       int64  `json:"matchId,omitempty"`
	Category      string `json:"category"`
	QuestionCount int    `json:"questionCount"`
	TimeLimitSec  int    `json:"timeLimitSec"`
}

// CreateMatchHandler builds a lobby (multi) or a single-player match for
// the authenticated user. The caller connects over /match/ws/{id} next.
func (s *Server) CreateMatchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	username, err := s.requireUser(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req createMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Category == "" || req.QuestionCount <= 0 || req.TimeLimitSec <= 0 {
		http.Error(w, "category, questionCount and timeLimitSec are required", http.StatusBadRequest)
		return
	}

	spec := supervisor.Spec{
		ID:            req.MatchID,
		Owner:         username,
		Category:      req.Category,
		QuestionCount: req.QuestionCount,
		TimeLimit:     time.Duration(req.TimeLimitSec) * time.Second,
	}

	var id int64
	switch req.Mode {
	case "single":
		m, err := s.Sup.CreateSingle(r.Context(), spec)
		if err != nil {
			s.matchCreateError(w, err)
			return
		}
		id = m.ID()
	case "", "multi":
		l, err := s.Sup.CreateLobby(r.Context(), spec)
		if err != nil {
			s.matchCreateError(w, err)
			return
		}
		id = l.ID()
	default:
		http.Error(w, "mode must be single or multi", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"matchId":  id,
		"owner":    username,
		"category": req.Category,
	})
}

func (s *Server) matchCreateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lobby.ErrNoQuestions):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, supervisor.ErrMatchExists):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.Log.WithError(err).Error("match creation failed")
		http.Error(w, "failed to create match", http.StatusInternalServerError)
	}
}

// ListCategoriesHandler returns the distinct question categories, for match
// creation forms.
func (s *Server) ListCategoriesHandler(w http.ResponseWriter, r *http.Request) {
	categories, err := s.Store.ListCategories(r.Context())
	if err != nil {
		s.Log.WithError(err).Error("category listing failed")
		http.Error(w, "failed to list categories", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"categories": categories})
}

// ListMatchesHandler returns the ids of all live matches.
func (s *Server) ListMatchesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"matches": s.Sup.List()})
}

// OnlineHandler reports whether one user is connected.
func (s *Server) OnlineHandler(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		http.Error(w, "missing username", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"username": username,
		"online":   s.Sessions.IsOnline(r.Context(), username),
	})
}

// ListOnlineHandler returns every connected username.
func (s *Server) ListOnlineHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": s.Sessions.ListOnline(r.Context()),
	})
}
