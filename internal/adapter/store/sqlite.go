package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"chatstream/internal/domain"
)

// SQLiteStore implements domain.ConversationStore using SQLite.
type SQLiteStore struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs the
// schema migration. Use ":memory:" for an in-memory store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open conversation db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate conversation db: %w", err)
	}

	t := time.Now()
	return &SQLiteStore{
		db:      db,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0),
	}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			title      TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_conversations_session
			ON conversations (session_id, updated_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			created_at      TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages (conversation_id, id);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// newID returns a monotonic ULID. ULIDs sort lexicographically by creation
// time, which the message ordering and deleteAfter queries rely on.
func (s *SQLiteStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, sessionID string) (*domain.Conversation, error) {
	now := time.Now().UTC()
	conv := &domain.Conversation{
		ID:        s.newID(),
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (id, session_id, title, created_at, updated_at) VALUES (?, ?, '', ?, ?)",
		conv.ID, conv.SessionID,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, domain.WrapOp("Store.CreateConversation", err)
	}
	return conv, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id, sessionID string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, session_id, title, created_at, updated_at FROM conversations WHERE id = ? AND session_id = ?",
		id, sessionID,
	)

	var conv domain.Conversation
	var createdAt, updatedAt string
	err := row.Scan(&conv.ID, &conv.SessionID, &conv.Title, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrConversationNotFound
	}
	if err != nil {
		return nil, domain.WrapOp("Store.GetConversation", err)
	}

	conv.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	conv.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &conv, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, sessionID string) ([]domain.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.session_id, c.title, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		WHERE c.session_id = ?
		ORDER BY c.updated_at DESC`,
		sessionID,
	)
	if err != nil {
		return nil, domain.WrapOp("Store.ListConversations", err)
	}
	defer rows.Close()

	summaries := []domain.ConversationSummary{}
	for rows.Next() {
		var sum domain.ConversationSummary
		var createdAt, updatedAt string
		if err := rows.Scan(&sum.ID, &sum.SessionID, &sum.Title, &createdAt, &updatedAt, &sum.MessageCount); err != nil {
			return nil, domain.WrapOp("Store.ListConversations", err)
		}
		sum.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		sum.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

func (s *SQLiteStore) UpdateTitle(ctx context.Context, id, sessionID, title string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET title = ?, updated_at = ? WHERE id = ? AND session_id = ?",
		title, time.Now().UTC().Format(time.RFC3339Nano), id, sessionID,
	)
	if err != nil {
		return domain.WrapOp("Store.UpdateTitle", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, id, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM conversations WHERE id = ? AND session_id = ?",
		id, sessionID,
	)
	if err != nil {
		return domain.WrapOp("Store.DeleteConversation", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID, role, content string) (*domain.StoredMessage, error) {
	now := time.Now().UTC()
	msg := &domain.StoredMessage{
		ID:             s.newID(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.WrapOp("Store.AppendMessage", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)",
		msg.ID, msg.ConversationID, msg.Role, msg.Content, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, domain.WrapOp("Store.AppendMessage", err)
	}

	// Bump the conversation so list ordering reflects activity.
	_, err = tx.ExecContext(ctx,
		"UPDATE conversations SET updated_at = ? WHERE id = ?",
		now.Format(time.RFC3339Nano), conversationID,
	)
	if err != nil {
		return nil, domain.WrapOp("Store.AppendMessage", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.WrapOp("Store.AppendMessage", err)
	}
	return msg, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]domain.StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY id",
		conversationID,
	)
	if err != nil {
		return nil, domain.WrapOp("Store.ListMessages", err)
	}
	defer rows.Close()

	msgs := []domain.StoredMessage{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, domain.WrapOp("Store.ListMessages", err)
		}
		msgs = append(msgs, *msg)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) FirstUserMessage(ctx context.Context, conversationID string) (*domain.StoredMessage, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id = ? AND role = ? ORDER BY id LIMIT 1",
		conversationID, domain.RoleUser,
	)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, domain.WrapOp("Store.FirstUserMessage", err)
	}
	return msg, nil
}

func (s *SQLiteStore) DeleteMessagesFrom(ctx context.Context, messageID, sessionID string, deleteAfter bool) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, domain.WrapOp("Store.DeleteMessagesFrom", err)
	}
	defer tx.Rollback()

	// Resolve the message and verify session ownership in one query.
	var conversationID string
	err = tx.QueryRowContext(ctx, `
		SELECT m.conversation_id
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.id = ? AND c.session_id = ?`,
		messageID, sessionID,
	).Scan(&conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrMessageNotFound
	}
	if err != nil {
		return 0, domain.WrapOp("Store.DeleteMessagesFrom", err)
	}

	var res sql.Result
	if deleteAfter {
		// ULIDs sort by creation time, so id >= messageID selects the
		// message and everything after it.
		res, err = tx.ExecContext(ctx,
			"DELETE FROM messages WHERE conversation_id = ? AND id >= ?",
			conversationID, messageID,
		)
	} else {
		res, err = tx.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", messageID)
	}
	if err != nil {
		return 0, domain.WrapOp("Store.DeleteMessagesFrom", err)
	}

	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, domain.WrapOp("Store.DeleteMessagesFrom", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM conversations WHERE updated_at < ?",
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, domain.WrapOp("Store.PurgeOlderThan", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*domain.StoredMessage, error) {
	var msg domain.StoredMessage
	var createdAt string
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &createdAt); err != nil {
		return nil, err
	}
	msg.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &msg, nil
}

var _ domain.ConversationStore = (*SQLiteStore)(nil)
