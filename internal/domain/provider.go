package domain

import "context"

// LLMProvider is the minimal interface every LLM backend implements.
type LLMProvider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
}

// StreamingLLMProvider is implemented by providers that support
// incremental token streaming. The returned channel is closed when the
// stream ends or ctx is cancelled.
type StreamingLLMProvider interface {
	LLMProvider
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error)
}
