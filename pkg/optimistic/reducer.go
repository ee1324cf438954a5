// Package optimistic implements the speculative message projection used by
// the chat controller: a pure reducer plus a list that keeps confirmed
// messages apart from not-yet-settled actions.
package optimistic

import (
	"github.com/nstogner/agentchat/pkg/domain"
)

// ActionType names a reducer transition.
type ActionType string

const (
	ActionAdd           ActionType = "add_message"
	ActionAppendContent ActionType = "update_message_content"
	ActionSetStatus     ActionType = "update_message_status"
	ActionRemove        ActionType = "remove_message"
	ActionSetMessages   ActionType = "set_messages"
	ActionSetFeedback   ActionType = "update_message_feedback"
)

// Action is a single speculative mutation of a message list.
type Action struct {
	Type ActionType
	// ConversationID tags the action with the conversation it was produced
	// for. Empty matches any conversation.
	ConversationID string
	MessageID      string

	// Message is the message to add (ActionAdd).
	Message *domain.UIMessage
	// After splices an added message right behind the message with this id.
	// When empty or not found the message is appended.
	After string

	// Chunk is appended to the message text (ActionAppendContent).
	Chunk string

	// Status, Content and IsStreaming apply to ActionSetStatus. Nil pointers
	// leave the field unchanged.
	Status      domain.Status
	Content     *string
	IsStreaming *bool

	Feedback domain.Feedback
	Messages []domain.UIMessage
}

// Add returns an action appending m.
func Add(m domain.UIMessage) Action {
	return Action{Type: ActionAdd, ConversationID: m.ConversationID, MessageID: m.ID, Message: &m}
}

// InsertAfter returns an action placing m directly after the message with id after.
func InsertAfter(after string, m domain.UIMessage) Action {
	a := Add(m)
	a.After = after
	return a
}

// AppendContent returns an action concatenating chunk onto a message.
func AppendContent(id, chunk string) Action {
	return Action{Type: ActionAppendContent, MessageID: id, Chunk: chunk}
}

// SetStatus returns an action changing a message status.
func SetStatus(id string, status domain.Status) Action {
	return Action{Type: ActionSetStatus, MessageID: id, Status: status}
}

// In tags the action with a conversation.
func (a Action) In(conversationID string) Action {
	a.ConversationID = conversationID
	return a
}

// WithContent replaces the message text as part of a status change.
func (a Action) WithContent(content string) Action {
	a.Content = &content
	return a
}

// WithStreaming sets the streaming flag as part of a status change.
func (a Action) WithStreaming(streaming bool) Action {
	a.IsStreaming = &streaming
	return a
}

// Remove returns an action deleting a message.
func Remove(id string) Action {
	return Action{Type: ActionRemove, MessageID: id}
}

// SetMessages returns an action replacing the whole list.
func SetMessages(msgs []domain.UIMessage) Action {
	return Action{Type: ActionSetMessages, Messages: msgs}
}

// SetFeedback returns an action changing only the feedback of a message.
func SetFeedback(id string, fb domain.Feedback) Action {
	return Action{Type: ActionSetFeedback, MessageID: id, Feedback: fb}
}

// Reduce applies a to list and returns the resulting list. It never mutates
// list and never fails: actions referencing unknown ids leave the list as is.
func Reduce(list []domain.UIMessage, a Action) []domain.UIMessage {
	switch a.Type {
	case ActionAdd:
		if a.Message == nil {
			return clone(list)
		}
		m := *a.Message
		if a.After != "" {
			if i := indexOf(list, a.After); i >= 0 {
				out := make([]domain.UIMessage, 0, len(list)+1)
				out = append(out, list[:i+1]...)
				out = append(out, m)
				return append(out, list[i+1:]...)
			}
		}
		out := make([]domain.UIMessage, 0, len(list)+1)
		out = append(out, list...)
		return append(out, m)

	case ActionAppendContent:
		out := clone(list)
		if i := indexOf(out, a.MessageID); i >= 0 {
			out[i].Content += a.Chunk
			out[i].Text = out[i].Content
			out[i].IsStreaming = true
		}
		return out

	case ActionSetStatus:
		out := clone(list)
		if i := indexOf(out, a.MessageID); i >= 0 {
			out[i].Status = a.Status
			if a.Content != nil {
				out[i].Content = *a.Content
				out[i].Text = *a.Content
			}
			if a.IsStreaming != nil {
				out[i].IsStreaming = *a.IsStreaming
			}
			out[i].IsError = a.Status == domain.StatusError
		}
		return out

	case ActionRemove:
		out := make([]domain.UIMessage, 0, len(list))
		for _, m := range list {
			if m.ID != a.MessageID {
				out = append(out, m)
			}
		}
		return out

	case ActionSetMessages:
		return clone(a.Messages)

	case ActionSetFeedback:
		out := clone(list)
		if i := indexOf(out, a.MessageID); i >= 0 {
			out[i].Feedback = a.Feedback
		}
		return out
	}
	return clone(list)
}

// ReduceAll folds actions over list in order.
func ReduceAll(list []domain.UIMessage, actions ...Action) []domain.UIMessage {
	out := clone(list)
	for _, a := range actions {
		out = Reduce(out, a)
	}
	return out
}

func indexOf(list []domain.UIMessage, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func clone(list []domain.UIMessage) []domain.UIMessage {
	out := make([]domain.UIMessage, len(list))
	copy(out, list)
	return out
}
