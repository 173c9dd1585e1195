package httpapi

import (
	"net/http"
)

// handleDeleteMessage deletes one message; with ?deleteAfter=true it also
// deletes every later message in the same conversation (used when a user
// rewinds and resubmits from an earlier point).
func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	session := sessionID(w, r)
	id := r.PathValue("id")
	deleteAfter := r.URL.Query().Get("deleteAfter") == "true"

	n, err := s.store.DeleteMessagesFrom(r.Context(), id, session, deleteAfter)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}
