// Package agentserver is a development implementation of the agent
// invocation endpoint the chat server talks to. It runs one model turn,
// executes requested tools and answers either as streamed text or as a
// structured JSON reply.
package agentserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nstogner/agentchat/pkg/agent"
	"github.com/nstogner/agentchat/pkg/domain"
	"github.com/nstogner/agentchat/pkg/model"
	"github.com/nstogner/agentchat/pkg/tools"
)

const defaultInstructions = "You are a helpful assistant. Use the available tools when they help answer the user."

// Handler serves the agent endpoints.
type Handler struct {
	Provider     model.Provider
	Tools        *tools.Registry
	Model        string
	Instructions string
	Logger       *slog.Logger
}

func NewHandler(p model.Provider, reg *tools.Registry, modelName string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = tools.NewRegistry()
	}
	return &Handler{
		Provider:     p,
		Tools:        reg,
		Model:        modelName,
		Instructions: defaultInstructions,
		Logger:       logger,
	}
}

// Engine returns a gin engine with all routes registered.
func (h *Handler) Engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	h.RegisterRoutes(r.Group("/api/agent"))
	return r
}

// RegisterRoutes registers the agent routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/invoke", h.Invoke)
	r.GET("/models", h.Models)
}

// Models lists the provider's models.
func (h *Handler) Models(c *gin.Context) {
	models, err := h.Provider.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider": h.Provider.Name(), "models": models})
}

// Invoke answers one user turn.
// POST /api/agent/invoke
func (h *Handler) Invoke(c *gin.Context) {
	var req agent.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.UserMessage) == "" && req.FileDataURI == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userMessage is required"})
		return
	}

	log := h.Logger.With("conversationID", req.ConversationID, "userID", req.UserID, "stream", req.Stream)
	log.Info("Invoking agent", "history", len(req.History))

	msgs := conversation(&req)
	if req.Stream {
		h.handleStreaming(c, log, msgs)
	} else {
		h.handleStructured(c, log, msgs)
	}
}

func (h *Handler) handleStreaming(c *gin.Context, log *slog.Logger, msgs []model.Message) {
	ctx := c.Request.Context()
	stream, err := h.Provider.Stream(ctx, h.Model, h.Instructions, msgs, nil)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	defer stream.Close()

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no") // Disable nginx buffering
	c.Status(http.StatusOK)

	w := c.Writer
	wrote := false
	err = stream.Text(func(chunk string) {
		wrote = true
		if _, err := w.WriteString(chunk); err != nil {
			return
		}
		w.Flush()
	})
	if err != nil {
		log.Error("Model stream failed", "error", err)
		if !wrote {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		// The status line is already sent; the reply ends where the model stopped.
	}
}

func (h *Handler) handleStructured(c *gin.Context, log *slog.Logger, msgs []model.Message) {
	ctx := c.Request.Context()
	specs := h.toolSpecs()

	first, err := h.turn(c, msgs, specs)
	if err != nil {
		log.Error("Model turn failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	calls := first.ToolCalls()
	resp := agent.Response{OutputMessage: first.Text()}
	if len(calls) == 0 {
		c.JSON(http.StatusOK, resp)
		return
	}

	results := model.Message{Role: domain.RoleTool}
	var names []string
	for _, call := range calls {
		resp.ToolRequests = append(resp.ToolRequests, domain.ToolCallData{ID: call.ID, Name: call.Name, Input: call.Input})
		names = append(names, call.Name)

		out, err := h.Tools.Execute(ctx, call.Name, call.Input)
		tr := domain.ToolResponseData{ID: call.ID, Name: call.Name, Status: domain.ToolStatusSuccess, Output: out}
		result := domain.ToolResult{ToolCallID: call.ID, Name: call.Name}
		if err != nil {
			log.Warn("Tool failed", "tool", call.Name, "error", err)
			tr.Status = domain.ToolStatusError
			tr.Output = nil
			tr.ErrorDetails = &domain.ErrorDetails{Message: err.Error()}
			result.Content = err.Error()
			result.IsError = true
		} else {
			result.Content = resultText(out)
		}
		resp.ToolResults = append(resp.ToolResults, tr)
		results.Content = append(results.Content, model.Content{Type: domain.ContentTypeToolResult, ToolResult: &result})
	}
	resp.ChatEvents = append(resp.ChatEvents, domain.ChatEvent{
		Type:      "tool_round",
		Title:     "Tools used",
		Detail:    strings.Join(names, ", "),
		Timestamp: time.Now(),
	})

	follow, err := h.turn(c, append(msgs, first, results), specs)
	if err != nil {
		log.Error("Follow-up model turn failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if text := follow.Text(); text != "" {
		resp.OutputMessage = text
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) turn(c *gin.Context, msgs []model.Message, specs []model.ToolSpec) (model.Message, error) {
	stream, err := h.Provider.Stream(c.Request.Context(), h.Model, h.Instructions, msgs, specs)
	if err != nil {
		return model.Message{}, err
	}
	defer stream.Close()
	return stream.FullMessage()
}

func (h *Handler) toolSpecs() []model.ToolSpec {
	var specs []model.ToolSpec
	for _, t := range h.Tools.List() {
		specs = append(specs, model.ToolSpec{Name: t.Name(), Description: t.Description(), Parameters: t.InputSchema()})
	}
	return specs
}

// conversation maps the chat history and the new user message into model
// messages. System annotations are display-only and dropped.
func conversation(req *agent.Request) []model.Message {
	var msgs []model.Message
	for _, m := range req.History {
		m.Normalize()
		if m.IsError {
			continue
		}
		switch m.Sender {
		case domain.SenderUser:
			msgs = append(msgs, model.TextMessage(domain.RoleUser, m.Content))
		case domain.SenderAgent:
			msgs = append(msgs, model.TextMessage(domain.RoleAssistant, m.Content))
		}
	}

	// The chat client includes the new user message as the last history
	// entry; don't send it twice.
	if n := len(msgs); n > 0 && msgs[n-1].Role == domain.RoleUser && msgs[n-1].Text() == req.UserMessage {
		msgs = msgs[:n-1]
	}

	text := req.UserMessage
	if req.FileDataURI != "" {
		text += fmt.Sprintf("\n[attached file: %s]", mediaType(req.FileDataURI))
	}
	return append(msgs, model.TextMessage(domain.RoleUser, text))
}

func mediaType(dataURI string) string {
	rest, ok := strings.CutPrefix(dataURI, "data:")
	if !ok {
		return "unknown"
	}
	if i := strings.IndexAny(rest, ";,"); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return "text/plain"
	}
	return rest
}

func resultText(out any) string {
	switch v := out.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

// Validate reports configuration problems before serving.
func (h *Handler) Validate() error {
	if h.Provider == nil {
		return errors.New("no model provider configured")
	}
	if h.Model == "" {
		return errors.New("no model configured")
	}
	return nil
}
