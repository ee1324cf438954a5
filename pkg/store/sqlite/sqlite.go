package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nstogner/agentchat/pkg/domain"
	"github.com/nstogner/agentchat/pkg/store"
)

// Store implements store.ConversationStore using SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Verify interface compliance at compile time.
var _ store.ConversationStore = (*Store)(nil)
var _ store.FeedbackReasonRecorder = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		agent_id TEXT NOT NULL DEFAULT '',
		preview TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		feedback TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		file_name TEXT NOT NULL DEFAULT '',
		is_error INTEGER NOT NULL DEFAULT 0,
		tool_call TEXT,
		tool_response TEXT,
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		seq INTEGER NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation_seq ON messages(conversation_id, seq);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation_time ON messages(conversation_id, timestamp, seq);

	CREATE TABLE IF NOT EXISTS feedback_reasons (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- Conversations ---

func (s *Store) GetAllConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, agent_id, preview, created_at, updated_at
		 FROM conversations WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	convs := []domain.Conversation{}
	for rows.Next() {
		var c domain.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.AgentID, &c.Preview, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}

func (s *Store) GetConversationByID(ctx context.Context, id string) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, agent_id, preview, created_at, updated_at
		 FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.AgentID, &c.Preview, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	msgs, err := s.messages(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Messages = msgs
	return c, nil
}

func (s *Store) CreateConversation(ctx context.Context, userID, title, agentID string) (*domain.Conversation, error) {
	now := s.now()
	if title == "" {
		title = store.DefaultTitle(now)
	}
	c := &domain.Conversation{
		ID:        uuid.New().String(),
		Title:     title,
		UserID:    userID,
		AgentID:   agentID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title, agent_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Title, c.AgentID, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) RenameConversation(ctx context.Context, conversationID, title string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title=?, updated_at=? WHERE id=?`,
		title, s.now(), conversationID,
	)
	if err != nil {
		return err
	}
	return expectRow(result, "conversation", conversationID)
}

func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id=?`, conversationID)
	if err != nil {
		return err
	}
	return expectRow(result, "conversation", conversationID)
}

// --- Messages ---

func (s *Store) AddMessage(ctx context.Context, conversationID string, msg domain.Message) (*domain.Message, error) {
	msg.Normalize()
	msg.ConversationID = conversationID
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	now := s.now()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}

	toolCall, err := encodeJSON(msg.ToolCall)
	if err != nil {
		return nil, fmt.Errorf("encode tool call: %w", err)
	}
	toolResponse, err := encodeJSON(msg.ToolResponse)
	if err != nil {
		return nil, fmt.Errorf("encode tool response: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at=?, preview=? WHERE id=?`,
		now, store.Preview(msg.Content), conversationID,
	)
	if err != nil {
		return nil, err
	}
	if err := expectRow(result, "conversation", conversationID); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender, content, feedback, image_url, file_name, is_error, tool_call, tool_response, timestamp, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?))`,
		msg.ID, conversationID, msg.Sender, msg.Content, msg.Feedback, msg.ImageURL, msg.FileName,
		msg.IsError, toolCall, toolResponse, msg.Timestamp.UTC(), conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *Store) UpdateMessageFeedback(ctx context.Context, conversationID, messageID string, feedback domain.Feedback) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET feedback=? WHERE id=? AND conversation_id=?`,
		feedback, messageID, conversationID,
	)
	if err != nil {
		return err
	}
	return expectRow(result, "message", messageID)
}

func (s *Store) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE id=? AND conversation_id=?`, messageID, conversationID)
	if err != nil {
		return err
	}
	return expectRow(result, "message", messageID)
}

func (s *Store) RecordFeedbackReason(ctx context.Context, conversationID, messageID, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback_reasons (conversation_id, message_id, reason, created_at) VALUES (?, ?, ?, ?)`,
		conversationID, messageID, reason, s.now(),
	)
	return err
}

// FeedbackReasons returns the recorded reasons for a message, oldest first.
func (s *Store) FeedbackReasons(ctx context.Context, conversationID, messageID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT reason FROM feedback_reasons WHERE conversation_id=? AND message_id=? ORDER BY id ASC`,
		conversationID, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reasons []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		reasons = append(reasons, r)
	}
	return reasons, rows.Err()
}

func (s *Store) messages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, sender, content, feedback, image_url, file_name, is_error, tool_call, tool_response, timestamp
		 FROM messages WHERE conversation_id = ? ORDER BY timestamp ASC, seq ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []domain.Message{}
	for rows.Next() {
		var (
			m            domain.Message
			toolCall     sql.NullString
			toolResponse sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Content, &m.Feedback,
			&m.ImageURL, &m.FileName, &m.IsError, &toolCall, &toolResponse, &m.Timestamp,
		); err != nil {
			return nil, err
		}
		if toolCall.Valid {
			m.ToolCall = &domain.ToolCallData{}
			if err := json.Unmarshal([]byte(toolCall.String), m.ToolCall); err != nil {
				return nil, fmt.Errorf("decode tool call of %s: %w", m.ID, err)
			}
		}
		if toolResponse.Valid {
			m.ToolResponse = &domain.ToolResponseData{}
			if err := json.Unmarshal([]byte(toolResponse.String), m.ToolResponse); err != nil {
				return nil, fmt.Errorf("decode tool response of %s: %w", m.ID, err)
			}
		}
		m.Normalize()
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func expectRow(result sql.Result, kind, id string) error {
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, store.ErrNotFound)
	}
	return nil
}

func encodeJSON(v any) (sql.NullString, error) {
	switch t := v.(type) {
	case *domain.ToolCallData:
		if t == nil {
			return sql.NullString{}, nil
		}
	case *domain.ToolResponseData:
		if t == nil {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
