package usecase

import (
	"context"
	"log/slog"
	"strings"

	"chatstream/internal/domain"
	"chatstream/internal/infra/tracer"
)

const maxTitleLen = 50

const titlePrompt = "Generate a short, descriptive title (a few words, no quotes, no punctuation at the end) for a conversation that starts with this message:"

// TitleService generates conversation titles from the first user message.
type TitleService struct {
	store    domain.ConversationStore
	provider domain.LLMProvider
	logger   *slog.Logger
}

// NewTitleService wires a title service. provider is typically a smaller,
// cheaper model than the chat provider.
func NewTitleService(store domain.ConversationStore, provider domain.LLMProvider, logger *slog.Logger) *TitleService {
	return &TitleService{store: store, provider: provider, logger: logger}
}

// Generate produces and persists a title for the conversation, returning the
// final title. A conversation that already has one is returned unchanged.
// Returns domain.ErrMessageNotFound when the conversation has no user message
// to derive a title from.
func (s *TitleService) Generate(ctx context.Context, conversationID, sessionID string) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "title.generate")
	defer span.End()

	conv, err := s.store.GetConversation(ctx, conversationID, sessionID)
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}
	if conv.Title != "" {
		tracer.SetOK(span)
		return conv.Title, nil
	}

	first, err := s.store.FirstUserMessage(ctx, conversationID)
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}

	resp, err := s.provider.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: titlePrompt + "\n\n" + first.Content},
		},
		MaxTokens: 30,
	})
	if err != nil {
		tracer.RecordError(span, err)
		return "", domain.WrapOp("TitleService.Generate", err)
	}

	title := normalizeTitle(resp.Message.Content)
	if title == "" {
		title = normalizeTitle(first.Content)
	}

	if err := s.store.UpdateTitle(ctx, conversationID, sessionID, title); err != nil {
		tracer.RecordError(span, err)
		return "", err
	}

	s.logger.Debug("conversation titled", "conversation", conversationID, "title", title)
	tracer.SetOK(span)
	return title, nil
}

// normalizeTitle trims whitespace and surrounding quotes, then caps the
// result at maxTitleLen runes.
func normalizeTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	s = strings.TrimSpace(s)

	runes := []rune(s)
	if len(runes) > maxTitleLen {
		s = string(runes[:maxTitleLen])
	}
	return s
}
