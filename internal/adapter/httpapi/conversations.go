package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"chatstream/internal/domain"
)

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	session := sessionID(w, r)

	conv, err := s.store.CreateConversation(r.Context(), session)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	session := sessionID(w, r)

	list, err := s.store.ListConversations(r.Context(), session)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]domain.ConversationSummary{"conversations": list})
}

type conversationDetail struct {
	Conversation *domain.Conversation   `json:"conversation"`
	Messages     []domain.StoredMessage `json:"messages"`
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	session := sessionID(w, r)
	id := r.PathValue("id")

	conv, err := s.store.GetConversation(r.Context(), id, session)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	msgs, err := s.store.ListMessages(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationDetail{Conversation: conv, Messages: msgs})
}

type updateConversationRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	session := sessionID(w, r)
	id := r.PathValue("id")

	var req updateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request body"})
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Title is required"})
		return
	}

	if err := s.store.UpdateTitle(r.Context(), id, session, strings.TrimSpace(req.Title)); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	session := sessionID(w, r)
	id := r.PathValue("id")

	if err := s.store.DeleteConversation(r.Context(), id, session); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleGenerateTitle(w http.ResponseWriter, r *http.Request) {
	session := sessionID(w, r)
	id := r.PathValue("id")

	title, err := s.titles.Generate(r.Context(), id, session)
	if err != nil {
		// A conversation without a user message cannot be titled.
		if errors.Is(err, domain.ErrMessageNotFound) {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "Conversation has no user message"})
			return
		}
		writeError(w, s.logger, err)
		return
	}
	s.metrics.TitlesCreated.Add(1)
	writeJSON(w, http.StatusOK, map[string]string{"title": title})
}
