package sseclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestConversationCalls(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		switch key {
		case "POST /api/conversations":
			w.WriteHeader(http.StatusCreated)
			io.WriteString(w, `{"id":"conv-1"}`)
		case "GET /api/conversations":
			io.WriteString(w, `{"conversations":[{"id":"conv-1","title":"Goroutines","message_count":4}]}`)
		case "GET /api/conversations/conv-1":
			io.WriteString(w, `{"conversation":{"id":"conv-1"},"messages":[{"id":"m1","role":"user","content":"hi"}]}`)
		case "PATCH /api/conversations/conv-1":
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), `"title":"Renamed"`) {
				t.Errorf("patch body = %s", body)
			}
			io.WriteString(w, `{"success":true}`)
		case "POST /api/conversations/conv-1/generate-title":
			io.WriteString(w, `{"title":"Goroutines"}`)
		case "DELETE /api/conversations/conv-1":
			io.WriteString(w, `{"success":true}`)
		case "DELETE /api/messages/m1":
			if r.URL.Query().Get("deleteAfter") != "true" {
				t.Error("deleteAfter not propagated")
			}
			io.WriteString(w, `{"deleted":3}`)
		default:
			t.Errorf("unexpected request: %s", key)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	ctx := context.Background()
	c := New(ts.URL)

	conv, err := c.CreateConversation(ctx)
	if err != nil || conv.ID != "conv-1" {
		t.Fatalf("CreateConversation = %+v, %v", conv, err)
	}

	list, err := c.ListConversations(ctx)
	if err != nil || len(list) != 1 || list[0].MessageCount != 4 {
		t.Fatalf("ListConversations = %+v, %v", list, err)
	}

	detail, err := c.GetConversation(ctx, "conv-1")
	if err != nil || len(detail.Messages) != 1 || detail.Messages[0].Content != "hi" {
		t.Fatalf("GetConversation = %+v, %v", detail, err)
	}

	if err := c.UpdateTitle(ctx, "conv-1", "Renamed"); err != nil {
		t.Fatalf("UpdateTitle: %v", err)
	}

	title, err := c.GenerateTitle(ctx, "conv-1")
	if err != nil || title != "Goroutines" {
		t.Fatalf("GenerateTitle = %q, %v", title, err)
	}

	n, err := c.DeleteMessage(ctx, "m1", true)
	if err != nil || n != 3 {
		t.Fatalf("DeleteMessage = %d, %v", n, err)
	}

	if err := c.DeleteConversation(ctx, "conv-1"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
}

func TestDoJSONErrorMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"Conversation not found"}`)
	}))
	defer ts.Close()

	_, err := New(ts.URL).GetConversation(context.Background(), "missing")
	if err == nil || !strings.Contains(err.Error(), "Conversation not found") {
		t.Fatalf("err = %v, want the server's message", err)
	}
}
