// Package sseclient consumes the chat streaming endpoint from Go programs.
// It handles the SSE wire format, frame reassembly across chunk boundaries,
// and dispatching each payload to the right callback.
package sseclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ConversationInfo identifies the conversation a stream belongs to. It is
// delivered near the end of the stream, after the assistant reply has been
// persisted server-side.
type ConversationInfo struct {
	ConversationID    string `json:"conversationId"`
	IsNewConversation bool   `json:"isNewConversation"`
}

// SearchSource is a web citation attached to an assistant reply.
type SearchSource struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content,omitempty"`
}

// Handlers receives decoded stream events. Nil callbacks are skipped.
type Handlers struct {
	// OnMessage receives each content delta as it arrives. Payloads that
	// cannot be decoded are also delivered here verbatim, so a newer server
	// never silently drops data on an older client.
	OnMessage func(content string)

	// OnConversationInfo receives the conversation identity frame.
	OnConversationInfo func(info ConversationInfo)

	// OnSearchSources receives the citations for this reply, at most once.
	OnSearchSources func(sources []SearchSource)

	// OnError receives a server-reported stream error.
	OnError func(message string)

	// OnComplete fires exactly once when the stream ends.
	OnComplete func()
}

// frame mirrors the server's payload shapes; pointer fields distinguish an
// absent key from a zero value, which is what drives dispatch.
type frame struct {
	Content           *string        `json:"content"`
	ConversationID    *string        `json:"conversationId"`
	IsNewConversation *bool          `json:"isNewConversation"`
	SearchSources     []SearchSource `json:"searchSources"`
	Error             *string        `json:"error"`
}

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"

	maxFrameSize = 1 << 20
)

// Decode reads an SSE stream until EOF, dispatching each data payload to h.
// The [DONE] sentinel is consumed but carries no event; completion is driven
// by the end of the stream itself. Decode closes r if it is an io.Closer.
func Decode(r io.Reader, h Handlers) error {
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		if !bytes.HasPrefix(line, []byte(dataPrefix)) {
			continue
		}
		data := bytes.TrimPrefix(line, []byte(dataPrefix))
		if bytes.Equal(data, []byte(doneSentinel)) {
			continue
		}
		dispatch(data, h)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}

	if h.OnComplete != nil {
		h.OnComplete()
	}
	return nil
}

func dispatch(data []byte, h Handlers) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		// Not a shape we know; hand the raw payload to the message callback.
		if h.OnMessage != nil {
			h.OnMessage(string(data))
		}
		return
	}

	switch {
	case f.ConversationID != nil && f.IsNewConversation != nil:
		if h.OnConversationInfo != nil {
			h.OnConversationInfo(ConversationInfo{
				ConversationID:    *f.ConversationID,
				IsNewConversation: *f.IsNewConversation,
			})
		}
	case f.SearchSources != nil:
		if h.OnSearchSources != nil {
			h.OnSearchSources(f.SearchSources)
		}
	case f.Content != nil:
		if h.OnMessage != nil {
			h.OnMessage(*f.Content)
		}
	case f.Error != nil:
		if h.OnError != nil {
			h.OnError(*f.Error)
		}
	default:
		if h.OnMessage != nil {
			h.OnMessage(string(data))
		}
	}
}

// ChatRequest starts or continues a conversation. An empty ConversationID
// starts a new one.
type ChatRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	Message        string `json:"message"`
}

// Client talks to a chat backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, e.g. to carry a cookie
// jar for session continuity.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New builds a Client for the backend at baseURL. The default HTTP client has
// no overall timeout so long streams are not cut off.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StreamChat sends a message and decodes the resulting stream into h. A
// non-2xx response is reported through h.OnError and returned as an error;
// OnComplete fires only for streams that actually started.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest, h Handlers) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := readErrorMessage(resp)
		resp.Body.Close()
		if h.OnError != nil {
			h.OnError(msg)
		}
		return fmt.Errorf("chat request failed: %s (status %d)", msg, resp.StatusCode)
	}

	return Decode(resp.Body, h)
}

// readErrorMessage extracts the server's error string from a failed response,
// falling back to the HTTP status text.
func readErrorMessage(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return e.Error
		}
	}
	return http.StatusText(resp.StatusCode)
}
