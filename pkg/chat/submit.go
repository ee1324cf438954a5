package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nstogner/agentchat/pkg/agent"
	"github.com/nstogner/agentchat/pkg/domain"
	"github.com/nstogner/agentchat/pkg/optimistic"
	"github.com/nstogner/agentchat/pkg/store"
)

// SubmitRequest is one user turn.
type SubmitRequest struct {
	Text         string
	File         *Attachment
	AudioDataURI string
	// Agent overrides the controller's default agent.
	Agent          *AgentTarget
	Stream         bool
	UserChatConfig json.RawMessage
	TestRunConfig  json.RawMessage
}

// turn is everything needed to ask the agent for one reply.
type turn struct {
	conversationID string
	prompt         string
	history        []domain.Message
	fileDataURI    string
	audioDataURI   string
	agent          AgentTarget
	stream         bool
	userChatConfig json.RawMessage
	testRunConfig  json.RawMessage
}

// Submit sends a user message and settles the agent's reply. While a
// dislike is waiting for its reason, the text is recorded as that reason
// instead. Submit blocks until the reply is settled; failures are also
// reflected in state and notices.
func (c *Controller) Submit(ctx context.Context, req SubmitRequest) error {
	c.mu.Lock()
	if target := c.waitingFeedbackOn; target != "" {
		convID := c.activeID
		c.waitingFeedbackOn = ""
		c.input = Input{}
		c.list.Mutate(optimistic.Add(c.localMessage(convID, FeedbackConfirmation)))
		c.mu.Unlock()
		c.changed()
		c.recordReason(ctx, convID, target, strings.TrimSpace(req.Text))
		return nil
	}
	if c.userID == "" {
		c.mu.Unlock()
		return c.reject(ErrNoUser)
	}
	text := strings.TrimSpace(req.Text)
	if text == "" && req.File == nil {
		c.mu.Unlock()
		return c.reject(ErrEmptyInput)
	}
	if c.pending {
		c.mu.Unlock()
		return c.reject(ErrBusy)
	}
	c.pending = true
	convID := c.activeID
	c.mu.Unlock()
	c.changed()
	defer c.finishPending()

	target := c.agentTarget
	if req.Agent != nil {
		target = *req.Agent
	}

	if convID == "" {
		conv, err := c.createConversation(ctx, conversationTitle(target.Name, text), target.ID)
		if err != nil {
			return err
		}
		convID = conv.ID
	}

	ctx, end := c.beginFlight(ctx, convID)
	defer end()

	userMsg := domain.UIMessage{
		Message: domain.Message{
			ID:             c.newID(),
			ConversationID: convID,
			IsUser:         true,
			Sender:         domain.SenderUser,
			Content:        text,
			Text:           text,
			Timestamp:      c.now(),
		},
		Status: domain.StatusPending,
	}
	var fileDataURI string
	if req.File != nil {
		userMsg.FileName = req.File.Name
		fileDataURI = req.File.DataURI
		if strings.HasPrefix(fileDataURI, "data:image/") {
			userMsg.ImageURL = fileDataURI
		}
	}

	c.mu.Lock()
	tx := c.list.Begin()
	c.list.Apply(tx, optimistic.Add(userMsg))
	c.mu.Unlock()
	c.changed()

	stored, err := c.store.AddMessage(ctx, convID, userMsg.Persisted())
	if err != nil {
		c.mu.Lock()
		c.list.Apply(tx, optimistic.SetStatus(userMsg.ID, domain.StatusError))
		c.list.Commit(tx)
		c.mu.Unlock()
		c.changed()
		return c.fail("Failed to send message", err)
	}
	persisted := *stored
	persisted.Normalize()

	c.mu.Lock()
	c.list.Apply(tx, optimistic.SetStatus(userMsg.ID, domain.StatusCompleted))
	c.list.Commit(tx)
	c.touchConversation(convID, text, persisted.Timestamp)
	c.input = Input{}
	sameConversation := c.list.ConversationID() == convID
	var hist []domain.Message
	if sameConversation {
		var prior []domain.UIMessage
		for _, m := range c.list.Confirmed() {
			if m.ID != userMsg.ID {
				prior = append(prior, m)
			}
		}
		hist = append(history(prior), persisted)
	}
	c.mu.Unlock()
	c.changed()

	if !sameConversation {
		// The user moved to another conversation before the agent was asked.
		return c.fail("Agent request failed", context.Canceled)
	}

	return c.respond(ctx, turn{
		conversationID: convID,
		prompt:         text,
		history:        hist,
		fileDataURI:    fileDataURI,
		audioDataURI:   req.AudioDataURI,
		agent:          target,
		stream:         req.Stream,
		userChatConfig: req.UserChatConfig,
		testRunConfig:  req.TestRunConfig,
	})
}

// respond stages an agent placeholder, invokes the agent and settles the
// reply into the message list and the store.
func (c *Controller) respond(ctx context.Context, t turn) error {
	placeholder := domain.UIMessage{
		Message: domain.Message{
			ID:             c.newID(),
			ConversationID: t.conversationID,
			Sender:         domain.SenderAgent,
			Timestamp:      c.now(),
		},
		Status:      domain.StatusPending,
		IsStreaming: true,
	}

	c.mu.Lock()
	tx := c.list.Begin()
	c.list.Apply(tx, optimistic.Add(placeholder))
	c.mu.Unlock()
	c.changed()

	req := &agent.Request{
		UserMessage:    t.prompt,
		History:        t.history,
		UserID:         c.userID,
		Stream:         t.stream,
		FileDataURI:    t.fileDataURI,
		AudioDataURI:   t.audioDataURI,
		ConversationID: t.conversationID,
		AgentConfig:    t.agent.Config,
		UserChatConfig: t.userChatConfig,
		TestRunConfig:  t.testRunConfig,
	}
	if len(req.AgentConfig) == 0 {
		req.AgentConfig = json.RawMessage("{}")
	}

	res, err := c.agent.Invoke(ctx, req, func(chunk string) {
		c.mu.Lock()
		ok := c.list.Apply(tx, optimistic.AppendContent(placeholder.ID, chunk).In(t.conversationID))
		c.mu.Unlock()
		if ok {
			c.changed()
		}
	})
	if err != nil {
		return c.failReply(t.conversationID, tx, placeholder, nil, err)
	}

	var settled []domain.UIMessage
	if res.Streamed {
		c.mu.Lock()
		c.list.Apply(tx, optimistic.SetStatus(placeholder.ID, domain.StatusCompleted).WithStreaming(false))
		c.mu.Unlock()
		c.changed()

		final := placeholder
		final.Content = res.Text
		final.Text = res.Text
		final.Status = domain.StatusCompleted
		final.IsStreaming = false
		settled = []domain.UIMessage{final}
	} else {
		settled = c.settleStructured(t.conversationID, placeholder, &res.Response)
		actions := []optimistic.Action{optimistic.Remove(placeholder.ID)}
		for _, m := range settled {
			actions = append(actions, optimistic.Add(m))
		}
		c.mu.Lock()
		c.list.Apply(tx, actions...)
		c.mu.Unlock()
		c.changed()
	}

	// The reply has arrived; a late cancel must not lose it.
	persistCtx := context.WithoutCancel(ctx)
	preview := ""
	for i, m := range settled {
		if _, err := c.store.AddMessage(persistCtx, t.conversationID, m.Persisted()); err != nil {
			return c.failReply(t.conversationID, tx, placeholder, settled[:i], fmt.Errorf("save reply: %w", err))
		}
		if m.Sender == domain.SenderAgent {
			preview = m.Text
		}
	}

	c.mu.Lock()
	c.list.Commit(tx)
	c.touchConversation(t.conversationID, preview, c.now())
	c.mu.Unlock()
	c.changed()
	return nil
}

// failReply discards the speculative reply and confirms only what reached
// the store: the saved messages followed by an error bubble. The bubble is
// persisted in the background and takes the placeholder's id unless that
// id was already saved.
func (c *Controller) failReply(conversationID string, tx optimistic.Tx, placeholder domain.UIMessage, saved []domain.UIMessage, cause error) error {
	text := cause.Error()
	if errors.Is(cause, context.Canceled) {
		text = "The response was canceled."
	}

	errMsg := placeholder
	errMsg.Content = text
	errMsg.Text = text
	errMsg.Status = domain.StatusError
	errMsg.IsError = true
	errMsg.IsStreaming = false
	errMsg.Timestamp = c.now()

	compensate := make([]optimistic.Action, 0, len(saved)+1)
	for _, m := range saved {
		if m.ID == placeholder.ID {
			errMsg.ID = c.newID()
		}
		compensate = append(compensate, optimistic.Add(m))
	}
	compensate = append(compensate, optimistic.Add(errMsg))

	c.mu.Lock()
	c.list.Rollback(tx, compensate...)
	c.mu.Unlock()
	c.changed()

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if _, err := c.store.AddMessage(ctx, conversationID, errMsg.Persisted()); err != nil {
			c.log.Warn("Failed to persist error message", "conversationID", conversationID, "messageID", errMsg.ID, "error", err)
		}
	}()

	return c.fail("Agent request failed", cause)
}

// settleStructured expands a JSON reply into display messages: tool call
// and result pairs, the agent's answer (reusing the placeholder id), then
// chat events.
func (c *Controller) settleStructured(conversationID string, placeholder domain.UIMessage, res *agent.Response) []domain.UIMessage {
	var out []domain.UIMessage

	seen := make(map[string]int)
	for _, call := range res.ToolRequests {
		if call.ID == "" {
			seen[call.Name]++
		}
	}
	for name, n := range seen {
		if n > 1 {
			c.log.Warn("Tool results matched by name are ambiguous", "tool", name, "calls", n)
		}
	}

	for _, call := range res.ToolRequests {
		call := call
		m := c.systemMessage(conversationID, toolCallText(call))
		m.ToolCall = &call
		out = append(out, m)

		if result, ok := matchToolResult(call, res.ToolResults); ok {
			r := c.systemMessage(conversationID, toolResultText(result))
			r.ToolResponse = &result
			out = append(out, r)
		}
	}

	if res.OutputMessage != "" || (len(out) == 0 && len(res.ChatEvents) == 0) {
		final := placeholder
		final.Content = res.OutputMessage
		final.Text = res.OutputMessage
		final.Status = domain.StatusCompleted
		final.IsStreaming = false
		final.Timestamp = c.now()
		out = append(out, final)
	}

	for _, ev := range res.ChatEvents {
		m := c.systemMessage(conversationID, chatEventText(ev))
		out = append(out, m)
	}
	return out
}

// matchToolResult pairs a request with its result. A shared id wins;
// otherwise the first result with the same tool name is used, which is
// ambiguous when one reply calls the same tool twice.
func matchToolResult(call domain.ToolCallData, results []domain.ToolResponseData) (domain.ToolResponseData, bool) {
	if call.ID != "" {
		for _, r := range results {
			if r.ID == call.ID {
				return r, true
			}
		}
	}
	for _, r := range results {
		if r.Name == call.Name {
			return r, true
		}
	}
	return domain.ToolResponseData{}, false
}

func toolCallText(call domain.ToolCallData) string {
	if len(call.Input) == 0 {
		return fmt.Sprintf("Using tool: %s", call.Name)
	}
	in, err := json.Marshal(call.Input)
	if err != nil {
		return fmt.Sprintf("Using tool: %s", call.Name)
	}
	return fmt.Sprintf("Using tool: %s with input %s", call.Name, in)
}

func toolResultText(r domain.ToolResponseData) string {
	switch r.Status {
	case domain.ToolStatusError:
		detail := "unknown error"
		if r.ErrorDetails != nil && r.ErrorDetails.Message != "" {
			detail = r.ErrorDetails.Message
		}
		return fmt.Sprintf("Tool %s failed: %s", r.Name, detail)
	case domain.ToolStatusPending:
		return fmt.Sprintf("Tool %s is still running", r.Name)
	}
	switch out := r.Output.(type) {
	case nil:
		return fmt.Sprintf("Tool %s succeeded", r.Name)
	case string:
		return fmt.Sprintf("Tool %s succeeded: %s", r.Name, out)
	default:
		b, err := json.Marshal(out)
		if err != nil {
			return fmt.Sprintf("Tool %s succeeded", r.Name)
		}
		return fmt.Sprintf("Tool %s succeeded: %s", r.Name, b)
	}
}

func chatEventText(ev domain.ChatEvent) string {
	switch {
	case ev.Title != "" && ev.Detail != "":
		return ev.Title + ": " + ev.Detail
	case ev.Title != "":
		return ev.Title
	default:
		return ev.Detail
	}
}

// conversationTitle names a conversation after its agent, or after the
// first words of its opening message.
func conversationTitle(agentName, text string) string {
	if agentName != "" {
		return agentName
	}
	r := []rune(text)
	if len(r) > titleLength {
		return strings.TrimSpace(string(r[:titleLength])) + "…"
	}
	return text
}

// recordReason stores the free-text reason for a dislike when the store
// supports it. Failures are logged only.
func (c *Controller) recordReason(ctx context.Context, conversationID, messageID, reason string) {
	rec, ok := c.store.(store.FeedbackReasonRecorder)
	if !ok || reason == "" || conversationID == "" {
		return
	}
	if err := rec.RecordFeedbackReason(ctx, conversationID, messageID, reason); err != nil {
		c.log.Warn("Failed to record feedback reason", "conversationID", conversationID, "messageID", messageID, "error", err)
	}
}
