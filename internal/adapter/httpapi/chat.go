package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chatstream/internal/domain"
	"chatstream/internal/usecase"
)

// genericStreamError is the only error text that crosses the wire mid-stream.
// Internal detail stays in the server log.
const genericStreamError = "Error during streaming"

type chatRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	Message        string `json:"message"`
}

// handleChat is the streaming chat endpoint. The response is an SSE body:
// content frames as they are generated, an optional searchSources frame, a
// conversationId/isNewConversation frame, and a final [DONE] sentinel.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	session := sessionID(w, r)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Message is required"})
		return
	}

	res := s.limiter.Check("chat:"+session, s.limitCfg)
	setRateLimitHeaders(w, res)
	if !res.Success {
		s.metrics.RateLimited.Add(1)
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: res.Message})
		return
	}

	events, err := s.chat.StreamMessage(r.Context(), session, req.ConversationID, req.Message)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	s.metrics.ChatStreams.Add(1)
	s.encodeStream(w, r, events)
}

// setRateLimitHeaders exposes the limiter outcome. Reset is whole seconds,
// rounded up.
func setRateLimitHeaders(w http.ResponseWriter, res usecase.LimitResult) {
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	seconds := int64((res.ResetIn + time.Second - 1) / time.Second)
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(seconds, 10))
}

// encodeStream writes the event channel as an SSE body. Frame order follows
// the event channel; every stream ends with exactly one [DONE] frame. A
// client disconnect abandons the stream (r.Context() cancels the generation
// upstream).
func (s *Server) encodeStream(w http.ResponseWriter, r *http.Request, events <-chan usecase.StreamEvent) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	writeFrame := func(payload any) bool {
		data, err := json.Marshal(payload)
		if err != nil {
			s.logger.Error("marshal stream frame", "error", err)
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	for ev := range events {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		switch {
		case ev.Done:
			fmt.Fprint(w, "data: [DONE]\n\n")
			if flusher != nil {
				flusher.Flush()
			}
			return
		case ev.Err != nil:
			s.metrics.StreamErrors.Add(1)
			writeFrame(map[string]string{"error": genericStreamError})
		case ev.Info != nil:
			writeFrame(ev.Info)
		case ev.Sources != nil:
			writeFrame(map[string][]domain.SearchSource{"searchSources": ev.Sources})
		case ev.Content != "":
			writeFrame(map[string]string{"content": ev.Content})
		}
	}
}
