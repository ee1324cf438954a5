// Package chat implements the chat session controller: it owns the
// conversation list and the optimistic message list of one user, talks to
// the conversation store and the agent endpoint, and reports every outcome
// as state rather than as a panic or an unhandled error.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nstogner/agentchat/pkg/agent"
	"github.com/nstogner/agentchat/pkg/domain"
	"github.com/nstogner/agentchat/pkg/optimistic"
	"github.com/nstogner/agentchat/pkg/store"
)

var (
	ErrNoUser          = errors.New("no authenticated user")
	ErrEmptyInput      = errors.New("message is empty")
	ErrBusy            = errors.New("a response is already in progress")
	ErrNoConversation  = errors.New("no active conversation")
	ErrMessageNotFound = errors.New("message not found")
	ErrNoPrompt        = errors.New("no user message precedes the selected response")
	ErrInvalidFeedback = errors.New("invalid feedback")
)

// Texts of controller-synthesized messages.
const (
	FeedbackQuestion     = "Why did you reject this suggestion?"
	FeedbackConfirmation = "Thanks for your feedback! We'll use it to improve future responses."
)

const (
	titleLength    = 30
	persistTimeout = 10 * time.Second
)

// Invoker calls the agent endpoint.
type Invoker interface {
	Invoke(ctx context.Context, req *agent.Request, onChunk func(string)) (*agent.Result, error)
}

var _ Invoker = (*agent.Client)(nil)

// AgentTarget identifies the agent a conversation talks to. Config is
// forwarded to the endpoint without interpretation.
type AgentTarget struct {
	ID     string          `json:"id,omitempty"`
	Name   string          `json:"name,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Attachment is a file staged with the next message.
type Attachment struct {
	Name    string `json:"name"`
	DataURI string `json:"dataUri"`
}

// Input is the staged, not yet sent user input.
type Input struct {
	Text string      `json:"text"`
	File *Attachment `json:"file,omitempty"`
}

// State is a snapshot of the controller.
type State struct {
	Conversations                 []domain.Conversation `json:"conversations"`
	ActiveConversationID          string                `json:"activeConversationId"`
	Messages                      []domain.UIMessage    `json:"messages"`
	IsPending                     bool                  `json:"isPending"`
	IsLoading                     bool                  `json:"isLoading"`
	Input                         Input                 `json:"input"`
	WaitingForFeedbackOnMessageID string                `json:"waitingForFeedbackOnMessageId,omitempty"`
}

// EventType classifies controller events.
type EventType string

const (
	EventStateChanged EventType = "state"
	EventNotice       EventType = "notice"
	EventNavigate     EventType = "navigate"
)

// NoticeLevel is the severity of a user-visible notice.
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// Notice is a user-visible message (a toast in a web UI).
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Title   string      `json:"title"`
	Message string      `json:"message"`
}

// Event is published to subscribers whenever something user-visible happens.
type Event struct {
	Type   EventType `json:"type"`
	Notice *Notice   `json:"notice,omitempty"`
	// Path is set for EventNavigate.
	Path string `json:"path,omitempty"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger used by the controller.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithIDGenerator overrides message ID generation.
func WithIDGenerator(f func() string) Option {
	return func(c *Controller) { c.newID = f }
}

// WithClock overrides the time source.
func WithClock(f func() time.Time) Option {
	return func(c *Controller) { c.now = f }
}

// WithAgent sets the default agent used when a request does not name one.
func WithAgent(t AgentTarget) Option {
	return func(c *Controller) { c.agentTarget = t }
}

type flight struct {
	conversationID string
	cancel         context.CancelFunc
}

// Controller is the chat session state machine for a single user.
type Controller struct {
	userID      string
	store       store.ConversationStore
	agent       Invoker
	agentTarget AgentTarget
	log         *slog.Logger
	newID       func() string
	now         func() time.Time

	mu                sync.Mutex
	conversations     []domain.Conversation
	activeID          string
	list              *optimistic.List
	pending           bool
	loading           bool
	input             Input
	waitingFeedbackOn string
	flight            *flight

	subMu sync.Mutex
	subs  []chan Event

	bg sync.WaitGroup
}

// New returns a controller for userID.
func New(userID string, st store.ConversationStore, inv Invoker, opts ...Option) *Controller {
	c := &Controller{
		userID: userID,
		store:  st,
		agent:  inv,
		log:    slog.Default(),
		newID:  uuid.NewString,
		now:    time.Now,
		list:   optimistic.NewList(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("userID", userID)
	return c
}

// UserID returns the user the controller acts for.
func (c *Controller) UserID() string { return c.userID }

// State returns a snapshot of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	convs := make([]domain.Conversation, len(c.conversations))
	copy(convs, c.conversations)
	return State{
		Conversations:                 convs,
		ActiveConversationID:          c.activeID,
		Messages:                      c.list.View(),
		IsPending:                     c.pending,
		IsLoading:                     c.loading,
		Input:                         c.input,
		WaitingForFeedbackOnMessageID: c.waitingFeedbackOn,
	}
}

// Subscribe returns a channel receiving controller events. Slow
// subscribers miss events rather than block the controller.
func (c *Controller) Subscribe() <-chan Event {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	ch := make(chan Event, 64)
	c.subs = append(c.subs, ch)
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (c *Controller) Unsubscribe(ch <-chan Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for i, sub := range c.subs {
		if sub == ch {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// SetInput stages draft text.
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	c.input.Text = text
	c.mu.Unlock()
	c.changed()
}

// AttachFile stages a file for the next message. Nil removes it.
func (c *Controller) AttachFile(f *Attachment) {
	c.mu.Lock()
	c.input.File = f
	c.mu.Unlock()
	c.changed()
}

// ClearInput drops staged text and file.
func (c *Controller) ClearInput() {
	c.mu.Lock()
	c.input = Input{}
	c.mu.Unlock()
	c.changed()
}

// Cancel aborts the in-flight agent request, if any.
func (c *Controller) Cancel() {
	c.cancelFlight()
}

// Wait blocks until background persistence started by the controller is done.
func (c *Controller) Wait() {
	c.bg.Wait()
}

func (c *Controller) publish(e Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, sub := range c.subs {
		select {
		case sub <- e:
		default:
		}
	}
}

func (c *Controller) changed() {
	c.publish(Event{Type: EventStateChanged})
}

func (c *Controller) notify(level NoticeLevel, title, msg string) {
	c.publish(Event{Type: EventNotice, Notice: &Notice{Level: level, Title: title, Message: msg}})
}

// reject reports a validation error.
func (c *Controller) reject(err error) error {
	c.log.Info("Rejected chat action", "reason", err)
	c.notify(NoticeError, "Cannot do that", err.Error())
	return err
}

// fail reports an operational error.
func (c *Controller) fail(title string, err error) error {
	if errors.Is(err, context.Canceled) {
		c.log.Info(title, "error", err)
		c.notify(NoticeInfo, title, "The request was canceled.")
		return err
	}
	c.log.Error(title, "error", err)
	c.notify(NoticeError, title, err.Error())
	return err
}

// beginFlight derives a cancelable context for an agent round trip.
func (c *Controller) beginFlight(ctx context.Context, conversationID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	f := &flight{conversationID: conversationID, cancel: cancel}
	c.mu.Lock()
	c.flight = f
	c.mu.Unlock()
	return ctx, func() {
		cancel()
		c.mu.Lock()
		if c.flight == f {
			c.flight = nil
		}
		c.mu.Unlock()
	}
}

func (c *Controller) cancelFlight() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flight != nil {
		c.flight.cancel()
	}
}

// finishPending clears the pending flag; every path that sets it defers this.
func (c *Controller) finishPending() {
	c.mu.Lock()
	c.pending = false
	c.mu.Unlock()
	c.changed()
}

// touchConversation bumps a conversation's summary and moves it to the
// top of the list. Callers hold c.mu.
func (c *Controller) touchConversation(id, preview string, at time.Time) {
	for i := range c.conversations {
		if c.conversations[i].ID != id {
			continue
		}
		conv := c.conversations[i]
		conv.UpdatedAt = at
		if preview != "" {
			conv.Preview = store.Preview(preview)
		}
		copy(c.conversations[1:i+1], c.conversations[:i])
		c.conversations[0] = conv
		return
	}
}

func (c *Controller) systemMessage(conversationID, text string) domain.UIMessage {
	return domain.UIMessage{
		Message: domain.Message{
			ID:             c.newID(),
			ConversationID: conversationID,
			Sender:         domain.SenderSystem,
			Content:        text,
			Text:           text,
			Timestamp:      c.now(),
		},
		Status: domain.StatusCompleted,
	}
}

func (c *Controller) localMessage(conversationID, text string) domain.UIMessage {
	m := c.systemMessage(conversationID, text)
	m.Local = true
	return m
}

// history maps settled messages into the wire shape sent to the agent.
func history(msgs []domain.UIMessage) []domain.Message {
	out := []domain.Message{}
	for _, m := range msgs {
		if m.Status != domain.StatusCompleted || m.Local || m.IsError {
			continue
		}
		out = append(out, m.Persisted())
	}
	return out
}
