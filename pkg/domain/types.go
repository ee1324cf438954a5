package domain

import (
	"encoding/json"
	"time"
)

// Conversation is a chat thread owned by exactly one user.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UserID    string    `json:"userId"`
	AgentID   string    `json:"agentId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// Preview is a short excerpt of the most recent message.
	Preview string `json:"preview,omitempty"`
	// Messages is only populated when a single conversation is fetched.
	Messages []Message `json:"messages,omitempty"`
}

// Message is the persisted form of a chat turn.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId,omitempty"`
	IsUser         bool      `json:"isUser"`
	Sender         Sender    `json:"sender,omitempty"`
	Content        string    `json:"content"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	Feedback       Feedback  `json:"feedback,omitempty"`
	ImageURL       string    `json:"imageUrl,omitempty"`
	FileName       string    `json:"fileName,omitempty"`
	IsError        bool      `json:"isError,omitempty"`

	ToolCall     *ToolCallData     `json:"toolCall,omitempty"`
	ToolResponse *ToolResponseData `json:"toolResponse,omitempty"`
}

// Normalize syncs Text with Content (Content wins when both are set) and
// fills in Sender from IsUser for messages written by older clients.
func (m *Message) Normalize() {
	if m.Content == "" {
		m.Content = m.Text
	}
	m.Text = m.Content
	if m.Sender == "" {
		if m.IsUser {
			m.Sender = SenderUser
		} else if m.ToolCall != nil || m.ToolResponse != nil {
			m.Sender = SenderSystem
		} else {
			m.Sender = SenderAgent
		}
	}
	m.IsUser = m.Sender == SenderUser
}

// UIMessage is the in-memory shape the chat controller works with.
// It is never persisted as-is; see Persisted.
type UIMessage struct {
	Message

	Status      Status `json:"status"`
	IsStreaming bool   `json:"isStreaming,omitempty"`
	// Local marks messages synthesized by the controller that never reach
	// the store, such as the feedback reason prompt.
	Local bool `json:"local,omitempty"`
}

// FromMessage maps a persisted message into its settled UI form.
func FromMessage(m Message) UIMessage {
	m.Normalize()
	return UIMessage{Message: m, Status: StatusCompleted}
}

// Persisted maps a UI message back to its storage form.
func (m UIMessage) Persisted() Message {
	out := m.Message
	out.Normalize()
	return out
}

// ToolCallData records a tool invocation requested by the agent.
type ToolCallData struct {
	// ID correlates a request with its result when the agent provides one.
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

// ErrorDetails describes a failed tool invocation.
type ErrorDetails struct {
	Message string          `json:"message"`
	Code    string          `json:"code,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

// ToolResponseData records the outcome of a tool invocation.
type ToolResponseData struct {
	ID           string        `json:"id,omitempty"`
	Name         string        `json:"name"`
	Output       any           `json:"output,omitempty"`
	Status       ToolStatus    `json:"status"`
	ErrorDetails *ErrorDetails `json:"errorDetails,omitempty"`
}

// ChatEvent is an auxiliary annotation returned by the agent endpoint.
type ChatEvent struct {
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Model represents an available LLM model.
type Model struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// ToolCall represents a tool invocation by the model.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResult represents the outcome of a tool call execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name,omitempty"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}
