// Package model abstracts the LLM providers used by the development agent
// endpoint.
package model

import (
	"context"
	"strings"

	"github.com/nstogner/agentchat/pkg/domain"
)

// Message represents a message in the model's conversation context.
type Message struct {
	// Role indicates the sender (user, assistant, tool, system).
	Role domain.Role
	// Content holds the message parts.
	Content []Content
}

// Content represents a single component of a message.
type Content struct {
	Type string // "text", "tool_call", "tool_result"

	// Text content (when Type == "text").
	Text string `json:"text,omitempty"`

	// Tool call (when Type == "tool_call").
	ToolCall *domain.ToolCall `json:"tool_call,omitempty"`

	// Tool result (when Type == "tool_result").
	ToolResult *domain.ToolResult `json:"tool_result,omitempty"`

	// ThoughtSignature is an opaque signature for the model's internal state.
	// Must be round-tripped back to the model on the next request.
	ThoughtSignature []byte `json:"thought_signature,omitempty"`
}

// Text returns the concatenated text parts of m.
func (m Message) Text() string {
	var b strings.Builder
	for _, c := range m.Content {
		if c.Type == domain.ContentTypeText {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// ToolCalls returns the tool calls requested in m.
func (m Message) ToolCalls() []domain.ToolCall {
	var calls []domain.ToolCall
	for _, c := range m.Content {
		if c.Type == domain.ContentTypeToolCall && c.ToolCall != nil {
			calls = append(calls, *c.ToolCall)
		}
	}
	return calls
}

// TextMessage builds a single-part text message.
func TextMessage(role domain.Role, text string) Message {
	return Message{Role: role, Content: []Content{{Type: domain.ContentTypeText, Text: text}}}
}

// ToolSpec declares a tool the model may call. Parameters is a JSON schema.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Provider represents a service that provides LLMs (e.g. Gemini, OpenAI).
type Provider interface {
	// Name returns the provider's identifier (e.g. "gemini", "echo").
	Name() string

	// List returns the available models from this provider.
	List(ctx context.Context) ([]domain.Model, error)

	// Stream sends a conversation context to the LLM and returns a stream of responses.
	// modelName identifies which model to use (e.g. "gemini-2.0-flash").
	// instructions is the system prompt.
	// messages is the conversation history.
	// tools are the functions the model may call.
	Stream(ctx context.Context, modelName, instructions string, messages []Message, tools []ToolSpec) (ModelStream, error)
}

// ModelStream abstracts the stream of responses from the model. A stream
// is consumed once, either by Text or by FullMessage.
type ModelStream interface {
	// Text calls fn with each text delta as it arrives. The full message is
	// available from FullMessage afterwards.
	Text(fn func(string)) error

	// FullMessage blocks until the complete response is available and returns it.
	FullMessage() (Message, error)

	// Close releases resources associated with this stream.
	Close() error
}
