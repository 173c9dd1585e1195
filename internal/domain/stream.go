package domain

// StreamDelta is one incremental unit of a streaming LLM response. A stream
// channel always carries a terminal delta before closing: Done when the
// provider finished the message, Err when the stream was cut short. Content
// received before an Err delta is partial output and must not be treated as
// a completed response.
type StreamDelta struct {
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     *Usage     `json:"usage,omitempty"`
	Done      bool       `json:"done,omitempty"`
	Err       error      `json:"-"`
}

// SearchSource is one web-search citation attached to an assistant response.
// Content is truncated before it crosses the wire.
type SearchSource struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content,omitempty"`
}
