package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatstream/internal/domain"
	"chatstream/internal/infra/config"
)

func TestAnthropicProviderChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing x-api-key header")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing anthropic-version header")
		}

		var req anthropicRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.System != "be helpful" {
			t.Errorf("system = %q, want 'be helpful'", req.System)
		}
		// The system message must not remain in the messages array.
		for _, m := range req.Messages {
			if m.Role == domain.RoleSystem {
				t.Error("system message leaked into messages")
			}
		}

		resp := anthropicResponse{
			ID:    "msg_1",
			Model: "claude-sonnet",
			Content: []anthropicContent{
				{Type: "text", Text: "Hi there"},
			},
			Usage: anthropicUsage{InputTokens: 20, OutputTokens: 4},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	provider := NewAnthropicProvider(config.ProviderConfig{
		Name:    "test",
		Model:   "claude-sonnet",
		APIKey:  "test-key",
		BaseURL: server.URL,
	}, newTestLogger())

	resp, err := provider.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "be helpful"},
			{Role: domain.RoleUser, Content: "Hello"},
		},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "Hi there" {
		t.Errorf("content = %q, want 'Hi there'", resp.Message.Content)
	}
	if resp.Usage.TotalTokens != 24 {
		t.Errorf("total tokens = %d, want 24", resp.Usage.TotalTokens)
	}
}

func TestAnthropicProviderChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Str"}}`+"\n\n")
		io.WriteString(w, `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"eam"}}`+"\n\n")
		io.WriteString(w, `data: {"type":"message_delta","usage":{"output_tokens":2}}`+"\n\n")
		io.WriteString(w, `data: {"type":"message_stop"}`+"\n\n")
	}))
	defer server.Close()

	provider := NewAnthropicProvider(config.ProviderConfig{
		Name:    "test",
		Model:   "claude-sonnet",
		BaseURL: server.URL,
	}, newTestLogger())

	ch, err := provider.ChatStream(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "Hello"}},
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var content string
	var gotUsage, gotDone bool
	for delta := range ch {
		content += delta.Content
		if delta.Usage != nil {
			gotUsage = true
		}
		if delta.Done {
			gotDone = true
		}
	}

	if content != "Stream" {
		t.Errorf("streamed content = %q, want Stream", content)
	}
	if !gotUsage {
		t.Error("expected a usage delta")
	}
	if !gotDone {
		t.Error("expected a Done delta")
	}
}

func TestAnthropicToolResultConversion(t *testing.T) {
	req := toAnthropicRequest(domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "search"},
			{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{
				{ID: "toolu_1", Name: "web_search", Arguments: json.RawMessage(`{"query":"go"}`)},
			}},
			{Role: domain.RoleTool, Content: "results here", ToolCalls: []domain.ToolCall{{ID: "toolu_1"}}},
		},
	})

	if len(req.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(req.Messages))
	}

	// Tool result becomes a user-role tool_result block.
	last := req.Messages[2]
	if last.Role != domain.RoleUser {
		t.Errorf("tool result role = %q, want user", last.Role)
	}
	if len(last.Content) != 1 || last.Content[0].Type != "tool_result" {
		t.Fatalf("expected tool_result block, got %+v", last.Content)
	}
	if last.Content[0].ToolUseID != "toolu_1" {
		t.Errorf("tool_use_id = %q, want toolu_1", last.Content[0].ToolUseID)
	}
}
