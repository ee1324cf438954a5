package gemini

import (
	"reflect"
	"testing"

	"google.golang.org/genai"

	"github.com/nstogner/agentchat/pkg/domain"
	"github.com/nstogner/agentchat/pkg/model"
)

func TestToSchema(t *testing.T) {
	s := toSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":  map[string]any{"type": "string", "description": "A path."},
			"names": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"path"},
	})
	if s.Type != genai.TypeObject {
		t.Errorf("Type = %q", s.Type)
	}
	if p := s.Properties["path"]; p == nil || p.Type != genai.TypeString || p.Description != "A path." {
		t.Errorf("path property = %+v", p)
	}
	if n := s.Properties["names"]; n == nil || n.Items == nil || n.Items.Type != genai.TypeString {
		t.Errorf("names property = %+v", n)
	}
	if !reflect.DeepEqual(s.Required, []string{"path"}) {
		t.Errorf("Required = %v", s.Required)
	}
	if toSchema(nil) != nil {
		t.Error("nil schema should stay nil")
	}
}

func TestToolDeclarations(t *testing.T) {
	if toolDeclarations(nil) != nil {
		t.Error("no tools should declare nothing")
	}
	decl := toolDeclarations([]model.ToolSpec{{Name: "read_file", Description: "Reads."}})
	if len(decl) != 1 || len(decl[0].FunctionDeclarations) != 1 || decl[0].FunctionDeclarations[0].Name != "read_file" {
		t.Errorf("declarations = %+v", decl)
	}
}

func TestToContents(t *testing.T) {
	msgs := []model.Message{
		model.TextMessage(domain.RoleSystem, "ignored"),
		model.TextMessage(domain.RoleUser, "what time is it?"),
		{Role: domain.RoleAssistant, Content: []model.Content{{
			Type:     domain.ContentTypeToolCall,
			ToolCall: &domain.ToolCall{ID: "c1", Name: "current_time"},
		}}},
		{Role: domain.RoleTool, Content: []model.Content{{
			Type:       domain.ContentTypeToolResult,
			ToolResult: &domain.ToolResult{ToolCallID: "c1", Content: "noon"},
		}}},
	}
	got := toContents(msgs)
	if len(got) != 3 {
		t.Fatalf("contents = %d, want 3", len(got))
	}
	if got[0].Role != "user" || got[1].Role != "model" || got[2].Role != "user" {
		t.Errorf("roles = %s %s %s", got[0].Role, got[1].Role, got[2].Role)
	}
	fr := got[2].Parts[0].FunctionResponse
	if fr == nil || fr.Name != "current_time" || fr.ID != "c1" || fr.Response["result"] != "noon" {
		t.Errorf("function response = %+v", fr)
	}
}
