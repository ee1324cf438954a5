package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nstogner/agentchat/pkg/domain"
	"github.com/nstogner/agentchat/pkg/store"
)

// Entry types written to a conversation file.
const (
	TypeMessage  = "message"
	TypeFeedback = "feedback"
	TypeDelete   = "delete"
	TypeReason   = "reason"
)

// Entry is one line of a conversation file. Feedback, delete and reason
// entries reference a message by TargetID and are applied on replay.
type Entry struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Message   *domain.Message `json:"message,omitempty"`
	TargetID  string          `json:"target_id,omitempty"`
	Feedback  domain.Feedback `json:"feedback,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// Index represents the index.json structure.
type Index struct {
	Conversations []ConversationMeta `json:"conversations"`
}

// ConversationMeta is the index record of a conversation.
type ConversationMeta struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	Title    string    `json:"title"`
	AgentID  string    `json:"agent_id,omitempty"`
	Preview  string    `json:"preview,omitempty"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

func (m ConversationMeta) conversation() domain.Conversation {
	return domain.Conversation{
		ID:        m.ID,
		Title:     m.Title,
		UserID:    m.UserID,
		AgentID:   m.AgentID,
		Preview:   m.Preview,
		CreatedAt: m.Created,
		UpdatedAt: m.Modified,
	}
}

// Store implements store.ConversationStore with one append-only JSONL file
// per conversation plus an index.json holding conversation metadata.
type Store struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	index Index
}

var _ store.ConversationStore = (*Store)(nil)
var _ store.FeedbackReasonRecorder = (*Store)(nil)

// New opens the store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	s := &Store{dir: dir, now: func() time.Time { return time.Now().UTC() }}
	if err := s.readIndex(); err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	return s, nil
}

func (s *Store) GetAllConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	convs := []domain.Conversation{}
	for _, m := range s.index.Conversations {
		if m.UserID == userID {
			convs = append(convs, m.conversation())
		}
	}
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}

func (s *Store) GetConversationByID(ctx context.Context, id string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(id)
	if i < 0 {
		return nil, fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
	}
	c := s.index.Conversations[i].conversation()

	msgs, _, err := s.replay(id)
	if err != nil {
		return nil, err
	}
	c.Messages = msgs
	return &c, nil
}

func (s *Store) CreateConversation(ctx context.Context, userID, title, agentID string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if title == "" {
		title = store.DefaultTitle(now)
	}
	meta := ConversationMeta{
		ID:       uuid.New().String(),
		UserID:   userID,
		Title:    title,
		AgentID:  agentID,
		Created:  now,
		Modified: now,
	}

	f, err := os.OpenFile(s.path(meta.ID), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation file: %w", err)
	}
	f.Close()

	s.index.Conversations = append(s.index.Conversations, meta)
	if err := s.writeIndex(); err != nil {
		return nil, err
	}
	c := meta.conversation()
	return &c, nil
}

func (s *Store) RenameConversation(ctx context.Context, conversationID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(conversationID)
	if i < 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, store.ErrNotFound)
	}
	s.index.Conversations[i].Title = title
	s.index.Conversations[i].Modified = s.now()
	return s.writeIndex()
}

func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(conversationID)
	if i < 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, store.ErrNotFound)
	}
	if err := os.Remove(s.path(conversationID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove conversation file: %w", err)
	}
	s.index.Conversations = append(s.index.Conversations[:i], s.index.Conversations[i+1:]...)
	return s.writeIndex()
}

func (s *Store) AddMessage(ctx context.Context, conversationID string, msg domain.Message) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(conversationID)
	if i < 0 {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, store.ErrNotFound)
	}

	msg.Normalize()
	msg.ConversationID = conversationID
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	now := s.now()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}

	if err := s.append(conversationID, Entry{Type: TypeMessage, Timestamp: now, Message: &msg}); err != nil {
		return nil, err
	}

	s.index.Conversations[i].Modified = now
	s.index.Conversations[i].Preview = store.Preview(msg.Content)
	if err := s.writeIndex(); err != nil {
		slog.Error("Failed to update conversation index", "conversationID", conversationID, "error", err)
	}
	return &msg, nil
}

func (s *Store) UpdateMessageFeedback(ctx context.Context, conversationID, messageID string, feedback domain.Feedback) error {
	return s.appendForMessage(conversationID, messageID, Entry{Type: TypeFeedback, TargetID: messageID, Feedback: feedback})
}

func (s *Store) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	return s.appendForMessage(conversationID, messageID, Entry{Type: TypeDelete, TargetID: messageID})
}

func (s *Store) RecordFeedbackReason(ctx context.Context, conversationID, messageID, reason string) error {
	return s.appendForMessage(conversationID, messageID, Entry{Type: TypeReason, TargetID: messageID, Reason: reason})
}

// FeedbackReasons returns the recorded reasons for a message, oldest first.
func (s *Store) FeedbackReasons(ctx context.Context, conversationID, messageID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.find(conversationID) < 0 {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, store.ErrNotFound)
	}
	_, reasons, err := s.replay(conversationID)
	if err != nil {
		return nil, err
	}
	return reasons[messageID], nil
}

func (s *Store) appendForMessage(conversationID, messageID string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.find(conversationID) < 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, store.ErrNotFound)
	}
	msgs, _, err := s.replay(conversationID)
	if err != nil {
		return err
	}
	found := false
	for _, m := range msgs {
		if m.ID == messageID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("message %s: %w", messageID, store.ErrNotFound)
	}
	e.Timestamp = s.now()
	return s.append(conversationID, e)
}

// replay reads a conversation file and applies every entry in order.
func (s *Store) replay(conversationID string) ([]domain.Message, map[string][]string, error) {
	f, err := os.Open(s.path(conversationID))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open conversation file: %w", err)
	}
	defer f.Close()

	msgs := []domain.Message{}
	reasons := make(map[string][]string)
	index := make(map[string]int)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			slog.Warn("Skipping malformed conversation entry", "conversationID", conversationID, "error", err)
			continue
		}
		switch e.Type {
		case TypeMessage:
			if e.Message == nil {
				continue
			}
			m := *e.Message
			m.Normalize()
			index[m.ID] = len(msgs)
			msgs = append(msgs, m)
		case TypeFeedback:
			if i, ok := index[e.TargetID]; ok {
				msgs[i].Feedback = e.Feedback
			}
		case TypeDelete:
			if i, ok := index[e.TargetID]; ok {
				msgs = append(msgs[:i], msgs[i+1:]...)
				delete(index, e.TargetID)
				for j := i; j < len(msgs); j++ {
					index[msgs[j].ID] = j
				}
			}
		case TypeReason:
			reasons[e.TargetID] = append(reasons[e.TargetID], e.Reason)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	// Entries are appended as they are saved, which is not always the
	// order the messages were written in.
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	return msgs, reasons, nil
}

func (s *Store) append(conversationID string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.path(conversationID), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open conversation file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

func (s *Store) find(id string) int {
	for i, m := range s.index.Conversations {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".jsonl")
}

func (s *Store) readIndex() error {
	data, err := os.ReadFile(filepath.Join(s.dir, "index.json"))
	if errors.Is(err, fs.ErrNotExist) {
		s.index = Index{}
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &s.index)
}

func (s *Store) writeIndex() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(s.dir, "index.json.tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(s.dir, "index.json"))
}
