package gemini_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nstogner/agentchat/pkg/domain"
	"github.com/nstogner/agentchat/pkg/model"
	"github.com/nstogner/agentchat/pkg/model/gemini"
)

const testModel = "gemini-2.0-flash"

func setupProvider(t *testing.T) *gemini.Provider {
	t.Helper()
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("Skipping: GEMINI_API_KEY not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	provider, err := gemini.New(ctx, apiKey)
	if err != nil {
		t.Fatalf("gemini.New: %v", err)
	}
	return provider
}

// TestIntegrationGeminiListModels verifies that List returns available models.
func TestIntegrationGeminiListModels(t *testing.T) {
	p := setupProvider(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	models, err := p.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(models) == 0 {
		t.Fatal("No models found")
	}
	for _, m := range models {
		if m.ID == "" || m.Provider != "gemini" {
			t.Errorf("unexpected model %+v", m)
		}
	}
}

// TestIntegrationGeminiStreamText verifies text deltas add up to the full message.
func TestIntegrationGeminiStreamText(t *testing.T) {
	p := setupProvider(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	msgs := []model.Message{model.TextMessage(domain.RoleUser, "Count from one to five in words.")}
	stream, err := p.Stream(ctx, testModel, "", msgs, nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	var deltas strings.Builder
	if err := stream.Text(func(s string) { deltas.WriteString(s) }); err != nil {
		t.Fatalf("Text: %v", err)
	}
	resp, err := stream.FullMessage()
	if err != nil {
		t.Fatalf("FullMessage: %v", err)
	}
	if resp.Text() == "" || resp.Text() != deltas.String() {
		t.Errorf("full text %q does not match deltas %q", resp.Text(), deltas.String())
	}
}

// TestIntegrationGeminiStreamToolCall verifies the model can request a declared tool.
func TestIntegrationGeminiStreamToolCall(t *testing.T) {
	p := setupProvider(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tools := []model.ToolSpec{{
		Name:        "current_time",
		Description: "Returns the current time.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
	}}
	msgs := []model.Message{model.TextMessage(domain.RoleUser, "What time is it? Use the tool.")}
	stream, err := p.Stream(ctx, testModel, "Always use the current_time tool for time questions.", msgs, tools)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	resp, err := stream.FullMessage()
	if err != nil {
		t.Fatalf("FullMessage: %v", err)
	}
	calls := resp.ToolCalls()
	if len(calls) == 0 {
		t.Fatalf("Expected a tool call, got text %q", resp.Text())
	}
	if calls[0].Name != "current_time" || calls[0].ID == "" {
		t.Errorf("tool call = %+v", calls[0])
	}
}
