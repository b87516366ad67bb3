package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/programmerrush/InsightDB-api/internal/ai"
)

type chatRequest struct {
	ConnectionID string `json:"connectionId"`
	SessionID    string `json:"sessionId" validate:"omitempty,max=100"`
	Message      string `json:"message" validate:"required,max=10000"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	resp, err := s.chat.Chat(r.Context(), ai.ChatRequest{
		UserID:       userID(r),
		ConnectionID: req.ConnectionID,
		SessionID:    req.SessionID,
		Message:      req.Message,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, "Success", resp)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.chat.Sessions(r.Context(), userID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, "Success", list)
}

func (s *Server) sessionHistory(w http.ResponseWriter, r *http.Request) {
	turns, err := s.chat.History(r.Context(), userID(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, "Success", turns)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.DeleteSession(r.Context(), userID(r), chi.URLParam(r, "sessionID")); err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, "Session deleted", nil)
}
