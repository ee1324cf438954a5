package domain

// Sender identifies who authored a chat message.
type Sender string

const (
	// SenderUser indicates a message typed by the user.
	SenderUser Sender = "user"
	// SenderAgent indicates a reply produced by the agent.
	SenderAgent Sender = "agent"
	// SenderSystem indicates an annotation synthesized by the client
	// (tool usage, chat events, feedback prompts).
	SenderSystem Sender = "system"
)

// Status is the reconciliation state of a message in the UI.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Feedback is a user rating on a message. The zero value means no rating.
type Feedback string

const (
	FeedbackNone     Feedback = ""
	FeedbackLiked    Feedback = "liked"
	FeedbackDisliked Feedback = "disliked"
)

// Valid reports whether f is one of the known feedback values.
func (f Feedback) Valid() bool {
	switch f {
	case FeedbackNone, FeedbackLiked, FeedbackDisliked:
		return true
	}
	return false
}

// ToolStatus is the outcome reported for a tool invocation.
type ToolStatus string

const (
	ToolStatusSuccess ToolStatus = "success"
	ToolStatusError   ToolStatus = "error"
	ToolStatusPending ToolStatus = "pending"
)

// Model roles used when talking to an LLM provider.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Model content types.
const (
	ContentTypeText       = "text"
	ContentTypeToolCall   = "tool_call"
	ContentTypeToolResult = "tool_result"
)
