package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/nstogner/agentchat/pkg/domain"
	"github.com/nstogner/agentchat/pkg/store"
)

// LoadConversations fetches the user's conversations. On failure the
// current list is kept.
func (c *Controller) LoadConversations(ctx context.Context) error {
	if c.userID == "" {
		return c.reject(ErrNoUser)
	}

	c.mu.Lock()
	c.loading = true
	c.mu.Unlock()
	c.changed()

	convs, err := c.store.GetAllConversations(ctx, c.userID)

	c.mu.Lock()
	c.loading = false
	if err == nil {
		c.conversations = convs
	}
	c.mu.Unlock()
	c.changed()

	if err != nil {
		return c.fail("Failed to load conversations", err)
	}
	return nil
}

// NewConversation creates a conversation, puts it at the top of the list
// and makes it active with an empty message list.
func (c *Controller) NewConversation(ctx context.Context, title string) (*domain.Conversation, error) {
	if c.userID == "" {
		return nil, c.reject(ErrNoUser)
	}
	c.cancelFlight()
	return c.createConversation(ctx, title, c.agentTarget.ID)
}

func (c *Controller) createConversation(ctx context.Context, title, agentID string) (*domain.Conversation, error) {
	conv, err := c.store.CreateConversation(ctx, c.userID, title, agentID)
	if err != nil {
		return nil, c.fail("Failed to create conversation", err)
	}

	c.mu.Lock()
	c.conversations = append([]domain.Conversation{*conv}, c.conversations...)
	c.activeID = conv.ID
	c.waitingFeedbackOn = ""
	c.list.Reset(conv.ID, nil)
	c.mu.Unlock()
	c.changed()

	c.log.Info("Created conversation", "conversationID", conv.ID)
	return conv, nil
}

// SelectConversation makes id active and loads its messages. On failure
// the message list is left empty, never showing another conversation's
// messages.
func (c *Controller) SelectConversation(ctx context.Context, id string) error {
	if c.userID == "" {
		return c.reject(ErrNoUser)
	}

	c.mu.Lock()
	if c.activeID == id && c.pending {
		// Reloading would drop the in-flight reply.
		c.mu.Unlock()
		return nil
	}
	if c.flight != nil && c.flight.conversationID != id {
		c.flight.cancel()
	}
	c.activeID = id
	c.loading = true
	c.waitingFeedbackOn = ""
	c.list.Reset(id, nil)
	c.mu.Unlock()
	c.changed()

	conv, err := c.store.GetConversationByID(ctx, id)
	if err == nil && conv.UserID != c.userID {
		err = fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
	}

	c.mu.Lock()
	if c.activeID != id {
		// A later selection won.
		c.mu.Unlock()
		return nil
	}
	c.loading = false
	if err != nil {
		c.list.Reset(id, nil)
		c.mu.Unlock()
		c.changed()
		return c.fail("Failed to load conversation", err)
	}
	msgs := make([]domain.UIMessage, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		msgs = append(msgs, domain.FromMessage(m))
	}
	c.list.Reset(id, msgs)
	c.mu.Unlock()
	c.changed()
	return nil
}

// DeleteConversation removes a conversation. Deleting the active one
// clears the message list and emits a navigate event.
func (c *Controller) DeleteConversation(ctx context.Context, id string) error {
	if c.userID == "" {
		return c.reject(ErrNoUser)
	}
	if err := c.owns(ctx, id); err != nil {
		return c.fail("Failed to delete conversation", err)
	}
	if err := c.store.DeleteConversation(ctx, id); err != nil {
		return c.fail("Failed to delete conversation", err)
	}

	c.mu.Lock()
	for i := range c.conversations {
		if c.conversations[i].ID == id {
			c.conversations = append(c.conversations[:i], c.conversations[i+1:]...)
			break
		}
	}
	wasActive := c.activeID == id
	if wasActive {
		if c.flight != nil {
			c.flight.cancel()
		}
		c.activeID = ""
		c.waitingFeedbackOn = ""
		c.list.Reset("", nil)
	}
	c.mu.Unlock()

	c.changed()
	if wasActive {
		c.publish(Event{Type: EventNavigate, Path: "/"})
	}
	return nil
}

// RenameConversation changes a conversation title.
func (c *Controller) RenameConversation(ctx context.Context, id, title string) error {
	if c.userID == "" {
		return c.reject(ErrNoUser)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return c.reject(ErrEmptyInput)
	}
	if err := c.owns(ctx, id); err != nil {
		return c.fail("Failed to rename conversation", err)
	}
	if err := c.store.RenameConversation(ctx, id, title); err != nil {
		return c.fail("Failed to rename conversation", err)
	}

	c.mu.Lock()
	for i := range c.conversations {
		if c.conversations[i].ID == id {
			c.conversations[i].Title = title
			c.conversations[i].UpdatedAt = c.now()
			break
		}
	}
	c.mu.Unlock()
	c.changed()
	return nil
}

// owns checks that id belongs to the controller's user.
func (c *Controller) owns(ctx context.Context, id string) error {
	c.mu.Lock()
	for _, conv := range c.conversations {
		if conv.ID == id {
			c.mu.Unlock()
			return nil
		}
	}
	c.mu.Unlock()

	conv, err := c.store.GetConversationByID(ctx, id)
	if err != nil {
		return err
	}
	if conv.UserID != c.userID {
		return fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
	}
	return nil
}
