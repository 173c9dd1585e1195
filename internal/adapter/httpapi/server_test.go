package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"chatstream/internal/domain"
)

func seedConversation(t *testing.T, env *testEnv, session string, msgs ...string) *domain.Conversation {
	t.Helper()
	ctx := context.Background()
	conv, err := env.store.CreateConversation(ctx, session)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	role := domain.RoleUser
	for _, m := range msgs {
		if _, err := env.store.AppendMessage(ctx, conv.ID, role, m); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		if role == domain.RoleUser {
			role = domain.RoleAssistant
		} else {
			role = domain.RoleUser
		}
	}
	return conv
}

func (e *testEnv) do(t *testing.T, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func TestConversationLifecycle(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{rounds: [][]domain.StreamDelta{{{Done: true}}}}, 10)
	session := sessionFromJar(t, env)
	conv := seedConversation(t, env, session, "what is Go?", "A programming language.")

	// List shows the seeded conversation with its message count.
	resp := env.do(t, http.MethodGet, "/api/conversations")
	var list struct {
		Conversations []domain.ConversationSummary `json:"conversations"`
	}
	json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if len(list.Conversations) != 1 || list.Conversations[0].ID != conv.ID {
		t.Fatalf("list = %+v", list.Conversations)
	}
	if list.Conversations[0].MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", list.Conversations[0].MessageCount)
	}

	// Detail includes the full transcript in order.
	resp = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID)
	var detail struct {
		Messages []domain.StoredMessage `json:"messages"`
	}
	json.NewDecoder(resp.Body).Decode(&detail)
	resp.Body.Close()
	if len(detail.Messages) != 2 || detail.Messages[0].Content != "what is Go?" {
		t.Fatalf("detail = %+v", detail.Messages)
	}

	// Delete removes it.
	resp = env.do(t, http.MethodDelete, "/api/conversations/"+conv.ID)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", resp.StatusCode)
	}
}

func TestCreateAndRenameConversation(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{rounds: [][]domain.StreamDelta{{{Done: true}}}}, 10)

	resp, err := env.client.Post(env.server.URL+"/api/conversations", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/conversations: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var conv domain.Conversation
	json.NewDecoder(resp.Body).Decode(&conv)
	resp.Body.Close()
	if conv.ID == "" {
		t.Fatal("no conversation id returned")
	}

	req, _ := http.NewRequest(http.MethodPatch, env.server.URL+"/api/conversations/"+conv.ID,
		strings.NewReader(`{"title":"Renamed"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = env.client.Do(req)
	if err != nil {
		t.Fatalf("PATCH: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d", resp.StatusCode)
	}

	got, err := env.store.GetConversation(context.Background(), conv.ID, sessionFromJar(t, env))
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Title != "Renamed" {
		t.Errorf("title = %q, want Renamed", got.Title)
	}
}

func TestRenameConversationEmptyTitle(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{rounds: [][]domain.StreamDelta{{{Done: true}}}}, 10)
	session := sessionFromJar(t, env)
	conv := seedConversation(t, env, session)

	req, _ := http.NewRequest(http.MethodPatch, env.server.URL+"/api/conversations/"+conv.ID,
		strings.NewReader(`{"title":"  "}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := env.client.Do(req)
	if err != nil {
		t.Fatalf("PATCH: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestConversationSessionIsolation(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{rounds: [][]domain.StreamDelta{{{Done: true}}}}, 10)
	sessionFromJar(t, env)
	other := seedConversation(t, env, "someone-else", "secret question")

	resp := env.do(t, http.MethodGet, "/api/conversations/"+other.ID)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cross-session get = %d, want 404", resp.StatusCode)
	}

	resp = env.do(t, http.MethodDelete, "/api/conversations/"+other.ID)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cross-session delete = %d, want 404", resp.StatusCode)
	}
}

func TestGenerateTitle(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{rounds: [][]domain.StreamDelta{{{Done: true}}}}, 10)
	session := sessionFromJar(t, env)
	conv := seedConversation(t, env, session, "explain goroutines")

	resp := env.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/generate-title")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Title string `json:"title"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Title != "A Title" {
		t.Errorf("title = %q", body.Title)
	}
}

func TestGenerateTitleNoUserMessage(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{rounds: [][]domain.StreamDelta{{{Done: true}}}}, 10)
	session := sessionFromJar(t, env)
	conv := seedConversation(t, env, session)

	resp := env.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/generate-title")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDeleteMessageWithDeleteAfter(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{rounds: [][]domain.StreamDelta{{{Done: true}}}}, 10)
	session := sessionFromJar(t, env)
	conv := seedConversation(t, env, session, "q1", "a1", "q2", "a2")

	msgs, err := env.store.ListMessages(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}

	// Deleting the second message with deleteAfter removes it and everything
	// newer.
	resp := env.do(t, http.MethodDelete, "/api/messages/"+msgs[1].ID+"?deleteAfter=true")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Deleted int `json:"deleted"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Deleted != 3 {
		t.Errorf("deleted = %d, want 3", body.Deleted)
	}

	remaining, _ := env.store.ListMessages(context.Background(), conv.ID)
	if len(remaining) != 1 || remaining[0].Content != "q1" {
		t.Errorf("remaining = %+v", remaining)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{rounds: [][]domain.StreamDelta{{{Done: true}}}}, 10)

	resp := env.do(t, http.MethodGet, "/api/v1/status")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{rounds: [][]domain.StreamDelta{{{Done: true}}}}, 10)

	resp := env.do(t, http.MethodGet, "/api/v1/status")
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{rounds: [][]domain.StreamDelta{{
		{Content: "hi"},
		{Done: true},
	}}}, 10)

	resp := env.postChat(t, `{"message":"hi"}`)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/metrics")
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	text := string(raw)
	if !strings.Contains(text, "chatstream_streams_total 1") {
		t.Errorf("metrics missing stream counter:\n%s", text)
	}
	if !strings.Contains(text, "chatstream_uptime_seconds") {
		t.Errorf("metrics missing uptime gauge")
	}
}
