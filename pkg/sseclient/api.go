package sseclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Conversation is a stored conversation as returned by the backend.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationSummary is the list-view projection of a conversation.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Message is a stored message within a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationDetail is a conversation with its full transcript.
type ConversationDetail struct {
	Conversation *Conversation `json:"conversation"`
	Messages     []Message     `json:"messages"`
}

// CreateConversation starts an empty conversation.
func (c *Client) CreateConversation(ctx context.Context) (*Conversation, error) {
	var conv Conversation
	if err := c.doJSON(ctx, http.MethodPost, "/api/conversations", nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns this session's conversations, most recently
// active first.
func (c *Client) ListConversations(ctx context.Context) ([]ConversationSummary, error) {
	var out struct {
		Conversations []ConversationSummary `json:"conversations"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// GetConversation returns a conversation and its messages.
func (c *Client) GetConversation(ctx context.Context, id string) (*ConversationDetail, error) {
	var detail ConversationDetail
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations/"+id, nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// UpdateTitle renames a conversation.
func (c *Client) UpdateTitle(ctx context.Context, id, title string) error {
	body := map[string]string{"title": title}
	return c.doJSON(ctx, http.MethodPatch, "/api/conversations/"+id, body, nil)
}

// DeleteConversation removes a conversation and its messages.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/conversations/"+id, nil, nil)
}

// GenerateTitle asks the backend to derive a title from the conversation's
// first user message and returns it.
func (c *Client) GenerateTitle(ctx context.Context, id string) (string, error) {
	var out struct {
		Title string `json:"title"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/conversations/"+id+"/generate-title", nil, &out); err != nil {
		return "", err
	}
	return out.Title, nil
}

// DeleteMessage removes a message; deleteAfter also removes every later
// message in the same conversation. Returns the number of deleted messages.
func (c *Client) DeleteMessage(ctx context.Context, id string, deleteAfter bool) (int, error) {
	path := "/api/messages/" + id
	if deleteAfter {
		path += "?deleteAfter=true"
	}
	var out struct {
		Deleted int `json:"deleted"`
	}
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

// doJSON performs a JSON round trip against the backend. A non-2xx response
// becomes an error carrying the server's message.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: %s (status %d)", method, path, readErrorMessage(resp), resp.StatusCode)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
