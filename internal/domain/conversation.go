package domain

import (
	"context"
	"time"
)

// Conversation is a persisted chat thread owned by a browser session.
type Conversation struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StoredMessage is a persisted message record within a conversation.
type StoredMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationSummary is the list-view projection of a conversation.
type ConversationSummary struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Title        string    `json:"title,omitempty"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ConversationStore persists conversations and their messages.
// All lookups are scoped by session ID so one session cannot read
// or mutate another session's conversations.
type ConversationStore interface {
	CreateConversation(ctx context.Context, sessionID string) (*Conversation, error)
	// GetConversation returns ErrConversationNotFound when the id does not
	// exist or belongs to a different session.
	GetConversation(ctx context.Context, id, sessionID string) (*Conversation, error)
	ListConversations(ctx context.Context, sessionID string) ([]ConversationSummary, error)
	UpdateTitle(ctx context.Context, id, sessionID, title string) error
	DeleteConversation(ctx context.Context, id, sessionID string) error

	AppendMessage(ctx context.Context, conversationID, role, content string) (*StoredMessage, error)
	ListMessages(ctx context.Context, conversationID string) ([]StoredMessage, error)
	// FirstUserMessage returns the oldest user-role message of a conversation,
	// or ErrMessageNotFound when the conversation has none.
	FirstUserMessage(ctx context.Context, conversationID string) (*StoredMessage, error)
	// DeleteMessagesFrom deletes the message with the given id; when deleteAfter
	// is true it also deletes every later message in the same conversation.
	// Returns the number of deleted rows.
	DeleteMessagesFrom(ctx context.Context, messageID, sessionID string, deleteAfter bool) (int, error)

	// PurgeOlderThan removes conversations (and their messages) not updated
	// since the cutoff. Used by the retention job.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
