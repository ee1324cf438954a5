package chat

import (
	"context"
	"fmt"

	"github.com/nstogner/agentchat/pkg/domain"
	"github.com/nstogner/agentchat/pkg/optimistic"
)

// SetFeedback rates a message. Disliking a reply asks the user why, and
// the next submitted text is taken as the answer; liking or clearing the
// rating of that reply withdraws the question. A failed save restores the
// previous rating.
func (c *Controller) SetFeedback(ctx context.Context, conversationID, messageID string, fb domain.Feedback) error {
	if !fb.Valid() {
		return c.reject(fmt.Errorf("%w %q", ErrInvalidFeedback, fb))
	}

	c.mu.Lock()
	if c.activeID == "" || conversationID != c.activeID {
		c.mu.Unlock()
		return c.reject(ErrNoConversation)
	}
	target, idx, ok := c.list.Find(messageID)
	if !ok {
		c.mu.Unlock()
		return c.reject(ErrMessageNotFound)
	}

	prev := target.Feedback
	prevWaiting := c.waitingFeedbackOn
	tx := c.list.Begin()
	c.list.Apply(tx, optimistic.SetFeedback(messageID, fb).In(conversationID))

	var asked string
	var withdrawn *domain.UIMessage
	view := c.list.View()
	switch {
	case fb == domain.FeedbackDisliked && target.Sender != domain.SenderUser:
		c.waitingFeedbackOn = messageID
		if !isFeedbackQuestion(view, idx+1) {
			q := c.localMessage(conversationID, FeedbackQuestion)
			c.list.Mutate(optimistic.InsertAfter(messageID, q))
			asked = q.ID
		}
	case fb != domain.FeedbackDisliked && c.waitingFeedbackOn == messageID:
		c.waitingFeedbackOn = ""
		if isFeedbackQuestion(view, idx+1) {
			q := view[idx+1]
			withdrawn = &q
			c.list.Mutate(optimistic.Remove(q.ID).In(conversationID))
		}
	}
	local := target.Local
	c.mu.Unlock()
	c.changed()

	var err error
	if !local {
		err = c.store.UpdateMessageFeedback(ctx, conversationID, messageID, fb)
	}

	c.mu.Lock()
	if err == nil {
		c.list.Commit(tx)
		c.mu.Unlock()
		c.changed()
		return nil
	}

	c.list.Rollback(tx, optimistic.SetFeedback(messageID, prev).In(conversationID))
	if asked != "" {
		c.list.Mutate(optimistic.Remove(asked).In(conversationID))
	}
	if withdrawn != nil {
		c.list.Mutate(optimistic.InsertAfter(messageID, *withdrawn))
	}
	if c.activeID == conversationID {
		c.waitingFeedbackOn = prevWaiting
	}
	c.mu.Unlock()
	c.changed()
	return c.fail("Failed to save feedback", err)
}

func isFeedbackQuestion(view []domain.UIMessage, i int) bool {
	return i >= 0 && i < len(view) &&
		view[i].Sender == domain.SenderSystem &&
		view[i].Text == FeedbackQuestion
}
