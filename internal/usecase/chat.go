package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"chatstream/internal/domain"
	"chatstream/internal/infra/config"
	"chatstream/internal/infra/tracer"
)

const (
	maxSourcesPerStream = 5
	maxToolRounds       = 3
)

// StreamEvent is one unit of the outbound chat stream, consumed by the HTTP
// encoder. Events arrive in protocol order: content deltas as they are
// generated, then (on success) sources once, info once, and a final Done.
// Err carries the internal failure; the transport layer decides what text
// reaches the wire.
type StreamEvent struct {
	Content string
	Sources []domain.SearchSource
	Info    *ConversationInfo
	Err     error
	Done    bool
}

// ConversationInfo identifies the conversation a stream belongs to.
type ConversationInfo struct {
	ConversationID    string `json:"conversationId"`
	IsNewConversation bool   `json:"isNewConversation"`
}

// ChatService orchestrates a chat turn: conversation resolution, user-message
// persistence, streaming generation with tool execution, and assistant-message
// persistence.
type ChatService struct {
	store    domain.ConversationStore
	provider domain.LLMProvider
	tools    map[string]domain.Tool
	counter  domain.TokenCounter
	cfg      config.ChatConfig
	logger   *slog.Logger
}

// NewChatService wires a chat service. counter may be nil to disable history
// trimming; tools may be empty.
func NewChatService(store domain.ConversationStore, provider domain.LLMProvider, tools []domain.Tool, counter domain.TokenCounter, cfg config.ChatConfig, logger *slog.Logger) *ChatService {
	toolMap := make(map[string]domain.Tool, len(tools))
	for _, t := range tools {
		toolMap[t.Name()] = t
	}
	return &ChatService{
		store:    store,
		provider: provider,
		tools:    toolMap,
		counter:  counter,
		cfg:      cfg,
		logger:   logger,
	}
}

// StreamMessage runs one chat turn. The synchronous phase resolves the
// conversation and persists the user message; it returns
// domain.ErrConversationNotFound when conversationID names a conversation the
// session does not own. The returned channel then carries the generation
// stream and is always terminated by exactly one Done event.
//
// The user message is persisted before generation starts, so history survives
// a failed generation. The assistant message is persisted only when the
// stream completes without error; partial output is discarded.
func (s *ChatService) StreamMessage(ctx context.Context, sessionID, conversationID, content string) (<-chan StreamEvent, error) {
	ctx, span := tracer.StartSpan(ctx, "chat.stream",
		trace.WithAttributes(tracer.StringAttr("chat.session", sessionID)),
	)

	conv, isNew, err := s.resolveConversation(ctx, sessionID, conversationID)
	if err != nil {
		tracer.RecordError(span, err)
		span.End()
		return nil, err
	}

	if _, err := s.store.AppendMessage(ctx, conv.ID, domain.RoleUser, content); err != nil {
		tracer.RecordError(span, err)
		span.End()
		return nil, domain.WrapOp("ChatService.StreamMessage", err)
	}

	history, err := s.buildHistory(ctx, conv.ID)
	if err != nil {
		tracer.RecordError(span, err)
		span.End()
		return nil, domain.WrapOp("ChatService.StreamMessage", err)
	}

	events := make(chan StreamEvent, 16)
	go func() {
		defer span.End()
		defer close(events)
		s.generate(ctx, span, conv, isNew, history, events)
	}()

	return events, nil
}

func (s *ChatService) resolveConversation(ctx context.Context, sessionID, conversationID string) (*domain.Conversation, bool, error) {
	if conversationID == "" {
		conv, err := s.store.CreateConversation(ctx, sessionID)
		if err != nil {
			return nil, false, domain.WrapOp("ChatService.resolveConversation", err)
		}
		return conv, true, nil
	}

	conv, err := s.store.GetConversation(ctx, conversationID, sessionID)
	if err != nil {
		return nil, false, err
	}
	return conv, false, nil
}

// buildHistory loads the persisted transcript, prepends the system prompt,
// and trims to the token budget.
func (s *ChatService) buildHistory(ctx context.Context, conversationID string) ([]domain.Message, error) {
	stored, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	messages := make([]domain.Message, 0, len(stored)+1)
	if s.cfg.SystemPrompt != "" {
		messages = append(messages, domain.Message{
			Role:    domain.RoleSystem,
			Content: s.cfg.SystemPrompt,
		})
	}
	for _, m := range stored {
		messages = append(messages, domain.Message{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.CreatedAt,
		})
	}

	return trimToBudget(s.counter, messages, s.cfg.HistoryTokenBudget), nil
}

// generate drives the provider stream, executing tool rounds as needed, and
// emits protocol-ordered events. Persistence of the assistant message
// happens before the sources/info/done tail is emitted.
func (s *ChatService) generate(ctx context.Context, span trace.Span, conv *domain.Conversation, isNew bool, history []domain.Message, events chan<- StreamEvent) {
	var (
		full    string
		sources []domain.SearchSource
	)

	emit := func(ev StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	fail := func(err error) {
		s.logger.Error("chat stream failed",
			"conversation", conv.ID,
			"error", err,
		)
		tracer.RecordError(span, err)
		// Partial output is discarded, not persisted.
		if emit(StreamEvent{Err: err}) {
			emit(StreamEvent{Done: true})
		}
	}

	messages := history
	for round := 0; ; round++ {
		deltas, err := s.openStream(ctx, messages)
		if err != nil {
			fail(err)
			return
		}

		var (
			pendingCalls []domain.ToolCall
			finished     bool
		)
		for delta := range deltas {
			if delta.Err != nil {
				fail(delta.Err)
				return
			}
			if delta.Content != "" {
				full += delta.Content
				if !emit(StreamEvent{Content: delta.Content}) {
					return
				}
			}
			pendingCalls = append(pendingCalls, delta.ToolCalls...)
			if delta.Usage != nil {
				span.SetAttributes(
					tracer.IntAttr("llm.prompt_tokens", delta.Usage.PromptTokens),
					tracer.IntAttr("llm.completion_tokens", delta.Usage.CompletionTokens),
				)
			}
			if delta.Done {
				finished = true
			}
		}
		if ctx.Err() != nil {
			return
		}
		// A channel that drains without a terminal Done delta means the
		// provider stream was cut off; whatever text arrived is incomplete.
		if !finished {
			fail(domain.WrapOp("ChatService.generate", domain.ErrStreamInterrupted))
			return
		}

		if len(pendingCalls) == 0 || round >= maxToolRounds {
			break
		}

		results, collected := s.runTools(ctx, pendingCalls)
		sources = append(sources, collected...)

		messages = append(messages, domain.Message{
			Role:      domain.RoleAssistant,
			ToolCalls: pendingCalls,
		})
		for _, r := range results {
			messages = append(messages, domain.Message{
				Role:      domain.RoleTool,
				Content:   r.Content,
				ToolCalls: []domain.ToolCall{{ID: r.ToolCallID}},
			})
		}
	}

	// A tool-only turn still persists an (empty) assistant record.
	if _, err := s.store.AppendMessage(ctx, conv.ID, domain.RoleAssistant, full); err != nil {
		fail(err)
		return
	}

	if len(sources) > 0 {
		capped := sources
		if len(capped) > maxSourcesPerStream {
			capped = capped[:maxSourcesPerStream]
		}
		if !emit(StreamEvent{Sources: capped}) {
			return
		}
	}

	if !emit(StreamEvent{Info: &ConversationInfo{
		ConversationID:    conv.ID,
		IsNewConversation: isNew,
	}}) {
		return
	}

	tracer.SetOK(span)
	emit(StreamEvent{Done: true})
}

func (s *ChatService) openStream(ctx context.Context, messages []domain.Message) (<-chan domain.StreamDelta, error) {
	req := domain.ChatRequest{
		Messages:    messages,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
		Stream:      true,
	}
	for _, t := range s.tools {
		req.Tools = append(req.Tools, t.Schema())
	}

	sp, ok := s.provider.(domain.StreamingLLMProvider)
	if ok {
		return sp.ChatStream(ctx, req)
	}

	// Non-streaming providers are adapted to a single-delta stream.
	resp, err := s.provider.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan domain.StreamDelta, 2)
	ch <- domain.StreamDelta{Content: resp.Message.Content, ToolCalls: resp.Message.ToolCalls}
	ch <- domain.StreamDelta{Done: true}
	close(ch)
	return ch, nil
}

// runTools executes each requested tool call and collects search sources
// from results that carry them. A missing or failing tool becomes an error
// result fed back to the model rather than a stream failure.
func (s *ChatService) runTools(ctx context.Context, calls []domain.ToolCall) ([]domain.ToolResult, []domain.SearchSource) {
	var (
		results []domain.ToolResult
		sources []domain.SearchSource
	)

	for _, call := range calls {
		res, err := s.execTool(ctx, call)
		if err != nil {
			content := "tool execution failed"
			if errors.Is(err, domain.ErrToolNotFound) {
				content = "unknown tool: " + call.Name
			} else {
				s.logger.Warn("tool execution failed",
					"tool", call.Name,
					"error", err,
				)
			}
			results = append(results, domain.ToolResult{
				ToolCallID: call.ID,
				Content:    content,
				IsError:    true,
			})
			continue
		}

		res.ToolCallID = call.ID
		results = append(results, *res)
		sources = append(sources, res.Sources...)
	}

	return results, sources
}

// execTool resolves and runs a single tool call.
func (s *ChatService) execTool(ctx context.Context, call domain.ToolCall) (*domain.ToolResult, error) {
	t, ok := s.tools[call.Name]
	if !ok {
		return nil, domain.NewDomainError("ChatService.execTool", domain.ErrToolNotFound, call.Name)
	}

	start := time.Now()
	res, err := t.Execute(ctx, call.Arguments)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("tool executed",
		"tool", call.Name,
		"duration", time.Since(start),
		"sources", len(res.Sources),
	)
	return res, nil
}
