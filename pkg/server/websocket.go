package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nstogner/agentchat/pkg/chat"
	"github.com/nstogner/agentchat/pkg/domain"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// command is a client request received over the socket.
type command struct {
	Type           string           `json:"type"`
	ConversationID string           `json:"conversationId,omitempty"`
	MessageID      string           `json:"messageId,omitempty"`
	Text           string           `json:"text,omitempty"`
	Title          string           `json:"title,omitempty"`
	File           *chat.Attachment `json:"file,omitempty"`
	Feedback       domain.Feedback  `json:"feedback,omitempty"`
	Stream         *bool            `json:"stream,omitempty"`
}

// outbound is pushed to the client.
type outbound struct {
	Type   chat.EventType `json:"type"`
	State  *chat.State    `json:"state,omitempty"`
	Notice *chat.Notice   `json:"notice,omitempty"`
	Path   string         `json:"path,omitempty"`
}

func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request, c *chat.Controller) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	log := s.log.With("userID", c.UserID())
	log.Debug("Chat socket connected")

	// Commands outlive neither the socket nor the server.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := c.Subscribe()
	defer c.Unsubscribe(events)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	// Writer goroutine: the only place that writes to ws.
	go func() {
		defer wg.Done()
		defer ws.Close()

		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		if err := writeState(ws, c); err != nil {
			log.Debug("Failed initial state push", "error", err)
			return
		}
		for {
			select {
			case <-done:
				return
			case <-s.closed:
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if err := writeEvent(ws, c, e); err != nil {
					log.Debug("Failed to push event", "error", err)
					return
				}
			case <-ticker.C:
				ws.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop: receives commands.
	var running sync.WaitGroup
	for {
		var cmd command
		if err := ws.ReadJSON(&cmd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("WebSocket read error", "error", err)
			}
			break
		}
		s.dispatch(ctx, c, cmd, &running)
	}

	close(done)
	cancel()
	running.Wait()
	wg.Wait()
}

// dispatch runs one command. Agent round trips run in the background so the
// socket stays responsive to cancel.
func (s *Server) dispatch(ctx context.Context, c *chat.Controller, cmd command, running *sync.WaitGroup) {
	background := func(f func()) {
		running.Add(1)
		s.wg.Add(1)
		go func() {
			defer running.Done()
			defer s.wg.Done()
			f()
		}()
	}

	// Failures are already reported to subscribers as notices.
	switch cmd.Type {
	case "submit":
		background(func() {
			if cmd.ConversationID != "" {
				if err := activate(ctx, c, cmd.ConversationID); err != nil {
					return
				}
			}
			c.Submit(ctx, chat.SubmitRequest{Text: cmd.Text, File: cmd.File, Stream: s.stream(cmd.Stream)})
		})
	case "regenerate":
		background(func() {
			c.Regenerate(ctx, chat.RegenerateRequest{MessageID: cmd.MessageID, Stream: s.stream(cmd.Stream)})
		})
	case "feedback":
		conv := cmd.ConversationID
		if conv == "" {
			conv = c.State().ActiveConversationID
		}
		c.SetFeedback(ctx, conv, cmd.MessageID, cmd.Feedback)
	case "select":
		c.SelectConversation(ctx, cmd.ConversationID)
	case "new":
		c.NewConversation(ctx, cmd.Title)
	case "delete":
		c.DeleteConversation(ctx, cmd.ConversationID)
	case "cancel":
		c.Cancel()
	case "input":
		c.SetInput(cmd.Text)
		if cmd.File != nil {
			c.AttachFile(cmd.File)
		}
	default:
		s.log.Debug("Unknown chat command", "type", cmd.Type)
	}
}

func writeState(ws *websocket.Conn, c *chat.Controller) error {
	st := c.State()
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return ws.WriteJSON(outbound{Type: chat.EventStateChanged, State: &st})
}

func writeEvent(ws *websocket.Conn, c *chat.Controller, e chat.Event) error {
	switch e.Type {
	case chat.EventStateChanged:
		// The snapshot is taken now, so a burst of changes collapses into
		// the latest state.
		return writeState(ws, c)
	default:
		ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		return ws.WriteJSON(outbound{Type: e.Type, Notice: e.Notice, Path: e.Path})
	}
}
