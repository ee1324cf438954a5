// Package echo is an offline model provider. It repeats the last user
// message and calls a declared tool when the message names one, which is
// enough to drive the agent endpoint without network access.
package echo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nstogner/agentchat/pkg/domain"
	"github.com/nstogner/agentchat/pkg/model"
)

const ModelName = "echo-1"

type Provider struct{}

var _ model.Provider = (*Provider)(nil)

func New() *Provider { return &Provider{} }

func (p *Provider) Name() string { return "echo" }

func (p *Provider) List(ctx context.Context) ([]domain.Model, error) {
	return []domain.Model{{ID: ModelName, Name: "Echo", Provider: "echo"}}, nil
}

func (p *Provider) Stream(ctx context.Context, modelName, instructions string, messages []model.Message, tools []model.ToolSpec) (model.ModelStream, error) {
	if len(messages) == 0 {
		return nil, errors.New("no messages")
	}
	last := messages[len(messages)-1]

	var content []model.Content
	switch {
	case last.Role == domain.RoleTool:
		var parts []string
		for _, c := range last.Content {
			if c.ToolResult != nil {
				parts = append(parts, fmt.Sprintf("Tool %s returned: %s", c.ToolResult.Name, c.ToolResult.Content))
			}
		}
		content = []model.Content{{Type: domain.ContentTypeText, Text: strings.Join(parts, "\n")}}
	default:
		text := last.Text()
		for i, t := range tools {
			if strings.Contains(text, t.Name) {
				content = append(content, model.Content{
					Type: domain.ContentTypeToolCall,
					ToolCall: &domain.ToolCall{
						ID:    fmt.Sprintf("call-%d", i+1),
						Name:  t.Name,
						Input: map[string]any{},
					},
				})
			}
		}
		if len(content) == 0 {
			content = []model.Content{{
				Type: domain.ContentTypeText,
				Text: fmt.Sprintf("Echo from %s: %s", modelName, text),
			}}
		}
	}

	return &stream{ctx: ctx, msg: model.Message{Role: domain.RoleAssistant, Content: content}}, nil
}

type stream struct {
	ctx context.Context
	msg model.Message
}

// Text emits the reply word by word.
func (s *stream) Text(fn func(string)) error {
	text := s.msg.Text()
	for len(text) > 0 {
		if err := s.ctx.Err(); err != nil {
			return err
		}
		i := strings.IndexByte(text, ' ')
		if i < 0 {
			i = len(text) - 1
		}
		fn(text[:i+1])
		text = text[i+1:]
	}
	return nil
}

func (s *stream) FullMessage() (model.Message, error) {
	if err := s.ctx.Err(); err != nil {
		return model.Message{}, err
	}
	return s.msg, nil
}

func (s *stream) Close() error { return nil }
