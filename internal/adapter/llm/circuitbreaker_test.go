package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"chatstream/internal/domain"
	"chatstream/internal/infra/config"
)

// fakeProvider is a scriptable LLMProvider for breaker tests.
type fakeProvider struct {
	name    string
	err     error
	calls   int
	deltas  []domain.StreamDelta
	content string
}

func (f *fakeProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ChatResponse{
		Message: domain.Message{Role: domain.RoleAssistant, Content: f.content},
	}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan domain.StreamDelta, len(f.deltas))
	for _, d := range f.deltas {
		ch <- d
	}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) Name() string { return f.name }

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &fakeProvider{name: "flaky", err: errors.New("upstream down")}
	cb := NewCircuitBreakerProvider(inner, config.BreakerConfig{
		MaxFailures: 3,
		Timeout:     time.Minute,
	}, newTestLogger())

	for i := 0; i < 3; i++ {
		if _, err := cb.Chat(context.Background(), domain.ChatRequest{}); err == nil {
			t.Fatal("expected error")
		}
	}

	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	// Once open, calls fail fast without reaching the provider.
	before := inner.calls
	_, err := cb.Chat(context.Background(), domain.ChatRequest{})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected ErrOpenState, got %v", err)
	}
	if inner.calls != before {
		t.Error("open breaker still called the provider")
	}
}

func TestCircuitBreakerPassesThroughSuccess(t *testing.T) {
	inner := &fakeProvider{name: "ok", content: "fine"}
	cb := NewCircuitBreakerProvider(inner, config.BreakerConfig{}, newTestLogger())

	resp, err := cb.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "fine" {
		t.Errorf("content = %q, want fine", resp.Message.Content)
	}
}

func TestCircuitBreakerIgnoresDeterministicRejections(t *testing.T) {
	inner := &fakeProvider{name: "strict", err: domain.ErrAuthInvalid}
	cb := NewCircuitBreakerProvider(inner, config.BreakerConfig{
		MaxFailures: 2,
		Timeout:     time.Minute,
	}, newTestLogger())

	// Per-request rejections say nothing about provider health and must not
	// open the circuit no matter how often they repeat.
	for i := 0; i < 5; i++ {
		if _, err := cb.Chat(context.Background(), domain.ChatRequest{}); !errors.Is(err, domain.ErrAuthInvalid) {
			t.Fatalf("call %d: err = %v, want ErrAuthInvalid", i, err)
		}
	}
	if cb.State() != gobreaker.StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}

	// Transient faults still trip it.
	inner.err = domain.ErrRateLimit
	for i := 0; i < 2; i++ {
		cb.Chat(context.Background(), domain.ChatRequest{})
	}
	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
}

func TestCircuitBreakerStreamInitiation(t *testing.T) {
	inner := &fakeProvider{name: "stream", deltas: []domain.StreamDelta{
		{Content: "a"},
		{Done: true},
	}}
	cb := NewCircuitBreakerProvider(inner, config.BreakerConfig{}, newTestLogger())

	ch, err := cb.ChatStream(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var count int
	for range ch {
		count++
	}
	if count != 2 {
		t.Errorf("expected 2 deltas, got %d", count)
	}
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&fakeProvider{name: "primary"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := reg.Register(&fakeProvider{name: "primary"}); err == nil {
		t.Error("expected duplicate registration error")
	}

	if _, err := reg.Get("primary"); err != nil {
		t.Errorf("Get(primary): %v", err)
	}

	_, err := reg.Get("missing")
	if !errors.Is(err, domain.ErrProviderNotFound) {
		t.Errorf("expected ErrProviderNotFound, got %v", err)
	}
}
