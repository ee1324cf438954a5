package chat

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nstogner/agentchat/pkg/domain"
	"github.com/nstogner/agentchat/pkg/optimistic"
)

// RegenerateRequest asks for a new reply in place of MessageID.
type RegenerateRequest struct {
	MessageID      string
	Agent          *AgentTarget
	Stream         bool
	UserChatConfig json.RawMessage
	TestRunConfig  json.RawMessage
}

// Regenerate drops the selected reply and everything after it, then asks
// the agent again with the user message that preceded it. The new reply
// gets a fresh id.
func (c *Controller) Regenerate(ctx context.Context, req RegenerateRequest) error {
	c.mu.Lock()
	if c.userID == "" {
		c.mu.Unlock()
		return c.reject(ErrNoUser)
	}
	convID := c.activeID
	if convID == "" {
		c.mu.Unlock()
		return c.reject(ErrNoConversation)
	}
	if c.pending {
		c.mu.Unlock()
		return c.reject(ErrBusy)
	}

	view := c.list.View()
	idx := -1
	for i := range view {
		if view[i].ID == req.MessageID {
			idx = i
			break
		}
	}
	if idx < 0 || view[idx].Sender == domain.SenderUser {
		c.mu.Unlock()
		return c.reject(ErrMessageNotFound)
	}
	promptIdx := -1
	for i := idx - 1; i >= 0; i-- {
		if view[i].Sender == domain.SenderUser {
			promptIdx = i
			break
		}
	}
	if promptIdx < 0 {
		c.mu.Unlock()
		return c.reject(ErrNoPrompt)
	}

	prompt := view[promptIdx]
	stale := append([]domain.UIMessage(nil), view[idx:]...)
	hist := history(view[:promptIdx])

	c.pending = true
	tx := c.list.Begin()
	for _, m := range stale {
		c.list.Apply(tx, optimistic.Remove(m.ID).In(convID))
		if m.ID == c.waitingFeedbackOn {
			c.waitingFeedbackOn = ""
		}
	}
	c.mu.Unlock()
	c.changed()
	defer c.finishPending()

	ctx, end := c.beginFlight(ctx, convID)
	defer end()

	for _, m := range stale {
		if m.Local {
			continue
		}
		if err := c.store.DeleteMessage(ctx, convID, m.ID); err != nil {
			c.log.Warn("Failed to delete stale message", "conversationID", convID, "messageID", m.ID, "error", err)
		}
	}

	c.mu.Lock()
	c.list.Commit(tx)
	c.mu.Unlock()

	target := c.agentTarget
	if req.Agent != nil {
		target = *req.Agent
	}
	var fileDataURI string
	if strings.HasPrefix(prompt.ImageURL, "data:") {
		fileDataURI = prompt.ImageURL
	}

	return c.respond(ctx, turn{
		conversationID: convID,
		prompt:         prompt.Text,
		history:        hist,
		fileDataURI:    fileDataURI,
		agent:          target,
		stream:         req.Stream,
		userChatConfig: req.UserChatConfig,
		testRunConfig:  req.TestRunConfig,
	})
}
