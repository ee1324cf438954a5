package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nstogner/agentchat/pkg/agent"
	"github.com/nstogner/agentchat/pkg/domain"
	"github.com/nstogner/agentchat/pkg/store"
)

// fakeStore is an in-memory ConversationStore that records calls and can
// be told to fail.
type fakeStore struct {
	mu      sync.Mutex
	convs   map[string]*domain.Conversation
	calls   []string
	reasons map[string][]string
	next    int

	failAdd      func(domain.Message) error
	failFeedback error
	failGet      error
	failList     error
	failDelete   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{convs: make(map[string]*domain.Conversation), reasons: make(map[string][]string)}
}

var _ store.ConversationStore = (*fakeStore)(nil)
var _ store.FeedbackReasonRecorder = (*fakeStore)(nil)

func (s *fakeStore) record(call string) {
	s.calls = append(s.calls, call)
}

func (s *fakeStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeStore) seed(userID, id string, msgs ...domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &domain.Conversation{ID: id, UserID: userID, Title: id, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	for _, m := range msgs {
		m.ConversationID = id
		m.Normalize()
		c.Messages = append(c.Messages, m)
	}
	s.convs[id] = c
}

func (s *fakeStore) messages(id string) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil
	}
	return append([]domain.Message(nil), c.Messages...)
}

func (s *fakeStore) GetAllConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GetAllConversations")
	if s.failList != nil {
		return nil, s.failList
	}
	var out []domain.Conversation
	for _, c := range s.convs {
		if c.UserID == userID {
			cc := *c
			cc.Messages = nil
			out = append(out, cc)
		}
	}
	return out, nil
}

func (s *fakeStore) GetConversationByID(ctx context.Context, id string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GetConversationByID")
	if s.failGet != nil {
		return nil, s.failGet
	}
	c, ok := s.convs[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
	}
	cc := *c
	cc.Messages = append([]domain.Message(nil), c.Messages...)
	return &cc, nil
}

func (s *fakeStore) CreateConversation(ctx context.Context, userID, title, agentID string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("CreateConversation")
	s.next++
	c := &domain.Conversation{
		ID:        fmt.Sprintf("conv-%d", s.next),
		UserID:    userID,
		Title:     title,
		AgentID:   agentID,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.convs[c.ID] = c
	cc := *c
	return &cc, nil
}

func (s *fakeStore) AddMessage(ctx context.Context, conversationID string, msg domain.Message) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("AddMessage")
	if s.failAdd != nil {
		if err := s.failAdd(msg); err != nil {
			return nil, err
		}
	}
	c, ok := s.convs[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, store.ErrNotFound)
	}
	msg.ConversationID = conversationID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.Normalize()
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
	return &msg, nil
}

func (s *fakeStore) UpdateMessageFeedback(ctx context.Context, conversationID, messageID string, feedback domain.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("UpdateMessageFeedback")
	if s.failFeedback != nil {
		return s.failFeedback
	}
	c, ok := s.convs[conversationID]
	if !ok {
		return store.ErrNotFound
	}
	for i := range c.Messages {
		if c.Messages[i].ID == messageID {
			c.Messages[i].Feedback = feedback
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *fakeStore) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("DeleteMessage")
	if s.failDelete != nil {
		return s.failDelete
	}
	c, ok := s.convs[conversationID]
	if !ok {
		return store.ErrNotFound
	}
	for i := range c.Messages {
		if c.Messages[i].ID == messageID {
			c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *fakeStore) RenameConversation(ctx context.Context, conversationID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("RenameConversation")
	c, ok := s.convs[conversationID]
	if !ok {
		return store.ErrNotFound
	}
	c.Title = title
	return nil
}

func (s *fakeStore) DeleteConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("DeleteConversation")
	if _, ok := s.convs[conversationID]; !ok {
		return store.ErrNotFound
	}
	delete(s.convs, conversationID)
	return nil
}

func (s *fakeStore) RecordFeedbackReason(ctx context.Context, conversationID, messageID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("RecordFeedbackReason")
	s.reasons[messageID] = append(s.reasons[messageID], reason)
	return nil
}

// fakeAgent scripts agent replies.
type fakeAgent struct {
	mu       sync.Mutex
	requests []*agent.Request

	chunks []string
	result *agent.Response
	err    error
	// release, when set, blocks Invoke until closed or canceled.
	release chan struct{}
	// started is signaled when Invoke is entered.
	started chan struct{}
	// afterChunk runs after each chunk is delivered.
	afterChunk func(i int)
}

func (f *fakeAgent) Invoke(ctx context.Context, req *agent.Request, onChunk func(string)) (*agent.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.chunks != nil {
		for i, ch := range f.chunks {
			onChunk(ch)
			if f.afterChunk != nil {
				f.afterChunk(i)
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &agent.Result{Streamed: true, Text: strings.Join(f.chunks, "")}, nil
	}
	if f.result != nil {
		return &agent.Result{Response: *f.result}, nil
	}
	return &agent.Result{Response: agent.Response{OutputMessage: "ok"}}, nil
}

func (f *fakeAgent) Requests() []*agent.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*agent.Request(nil), f.requests...)
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestController(t *testing.T, st *fakeStore, ag *fakeAgent) *Controller {
	t.Helper()
	c := New("user1", st, ag, WithIDGenerator(sequentialIDs()))
	t.Cleanup(c.Wait)
	return c
}

// drainNotices collects notices published so far.
func drainNotices(ch <-chan Event) []Notice {
	var out []Notice
	for {
		select {
		case e := <-ch:
			if e.Type == EventNotice && e.Notice != nil {
				out = append(out, *e.Notice)
			}
		default:
			return out
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func summarize(msgs []domain.UIMessage) []string {
	var out []string
	for _, m := range msgs {
		out = append(out, fmt.Sprintf("%s:%s", m.Sender, m.Text))
	}
	return out
}
