package store

import (
	"context"
	"errors"
	"time"

	"github.com/nstogner/agentchat/pkg/domain"
)

// ErrNotFound is returned (wrapped) when a conversation or message does not exist.
var ErrNotFound = errors.New("not found")

// ConversationStore persists conversations and their messages.
type ConversationStore interface {
	// GetAllConversations lists a user's conversations, most recently
	// updated first. Messages are not populated.
	GetAllConversations(ctx context.Context, userID string) ([]domain.Conversation, error)

	// GetConversationByID returns a conversation with its messages ordered
	// by timestamp ascending.
	GetConversationByID(ctx context.Context, id string) (*domain.Conversation, error)

	// CreateConversation creates a conversation. An empty title is replaced
	// with DefaultTitle.
	CreateConversation(ctx context.Context, userID, title, agentID string) (*domain.Conversation, error)

	// AddMessage appends a message, assigning an ID and timestamp when
	// absent, and bumps the conversation's updated time and preview.
	AddMessage(ctx context.Context, conversationID string, msg domain.Message) (*domain.Message, error)

	// UpdateMessageFeedback sets (or clears) the feedback on a message.
	UpdateMessageFeedback(ctx context.Context, conversationID, messageID string, feedback domain.Feedback) error

	// DeleteMessage removes a single message.
	DeleteMessage(ctx context.Context, conversationID, messageID string) error

	// RenameConversation changes the title and bumps the updated time.
	RenameConversation(ctx context.Context, conversationID, title string) error

	// DeleteConversation removes a conversation and all of its messages.
	DeleteConversation(ctx context.Context, conversationID string) error
}

// FeedbackReasonRecorder is implemented by stores that keep the free-text
// reason a user gives after disliking a message.
type FeedbackReasonRecorder interface {
	RecordFeedbackReason(ctx context.Context, conversationID, messageID, reason string) error
}

// DefaultTitle is the title given to conversations created without one.
func DefaultTitle(t time.Time) string {
	return "Chat " + t.Format("2006-01-02 15:04")
}

// PreviewLength is the maximum number of runes kept in a conversation preview.
const PreviewLength = 100

// Preview shortens text for use as a conversation preview.
func Preview(text string) string {
	r := []rune(text)
	if len(r) <= PreviewLength {
		return text
	}
	return string(r[:PreviewLength]) + "…"
}
