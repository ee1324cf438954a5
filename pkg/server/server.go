// Package server exposes chat controllers over a REST API and a WebSocket
// channel. Each authenticated user gets one controller shared by all of
// their connections.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/nstogner/agentchat/pkg/agent"
	"github.com/nstogner/agentchat/pkg/chat"
	"github.com/nstogner/agentchat/pkg/store"
)

// UserHeader carries the authenticated user id.
const UserHeader = "X-User-ID"

// Options configures a Server.
type Options struct {
	// Agent is the default agent for new conversations.
	Agent chat.AgentTarget
	// Stream asks the agent for streamed replies by default.
	Stream bool
	Logger *slog.Logger
}

// Server serves the chat API.
type Server struct {
	store  store.ConversationStore
	agent  chat.Invoker
	opts   Options
	log    *slog.Logger
	srv    *http.Server
	closed chan struct{}

	closeOnce sync.Once

	mu    sync.Mutex
	users map[string]*chat.Controller
	wg    sync.WaitGroup
}

// New creates a new Server.
func New(st store.ConversationStore, inv chat.Invoker, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store:  st,
		agent:  inv,
		opts:   opts,
		log:    log,
		closed: make(chan struct{}),
		users:  make(map[string]*chat.Controller),
	}
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/state", s.withUser(s.handleGetState))

	// Conversations
	mux.HandleFunc("GET /api/conversations", s.withUser(s.handleListConversations))
	mux.HandleFunc("POST /api/conversations", s.withUser(s.handleCreateConversation))
	mux.HandleFunc("GET /api/conversations/{id}", s.withUser(s.handleGetConversation))
	mux.HandleFunc("PUT /api/conversations/{id}", s.withUser(s.handleRenameConversation))
	mux.HandleFunc("DELETE /api/conversations/{id}", s.withUser(s.handleDeleteConversation))

	// Messages
	mux.HandleFunc("POST /api/conversations/{id}/messages", s.withUser(s.handleSubmit))
	mux.HandleFunc("PUT /api/conversations/{id}/messages/{messageId}/feedback", s.withUser(s.handleFeedback))
	mux.HandleFunc("POST /api/conversations/{id}/messages/{messageId}/regenerate", s.withUser(s.handleRegenerate))
	mux.HandleFunc("POST /api/cancel", s.withUser(s.handleCancel))

	// WebSocket
	mux.HandleFunc("GET /api/chat", s.withUser(s.handleChatWebSocket))

	return s.corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	s.log.Info("Starting web server", "addr", addr)
	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, cancels in-flight agent requests
// and waits for pending background writes. It is safe to call more than
// once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closed) })
	var err error
	if s.srv != nil {
		err = s.srv.Shutdown(ctx)
	}

	s.mu.Lock()
	ctrls := make([]*chat.Controller, 0, len(s.users))
	for _, c := range s.users {
		ctrls = append(ctrls, c)
	}
	s.mu.Unlock()
	for _, c := range ctrls {
		c.Cancel()
	}
	s.wg.Wait()
	for _, c := range ctrls {
		c.Wait()
	}
	return err
}

type userHandler func(w http.ResponseWriter, r *http.Request, c *chat.Controller)

// withUser resolves the caller's controller, creating and loading it on
// first use.
func (s *Server) withUser(h userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			userID = strings.TrimSpace(r.URL.Query().Get("user"))
		}
		if userID == "" {
			s.errorResponse(w, http.StatusUnauthorized, chat.ErrNoUser)
			return
		}
		h(w, r, s.controller(r.Context(), userID))
	}
}

func (s *Server) controller(ctx context.Context, userID string) *chat.Controller {
	s.mu.Lock()
	c, ok := s.users[userID]
	if !ok {
		c = chat.New(userID, s.store, s.agent,
			chat.WithAgent(s.opts.Agent),
			chat.WithLogger(s.log),
		)
		s.users[userID] = c
	}
	s.mu.Unlock()

	if !ok {
		if err := c.LoadConversations(ctx); err != nil {
			s.log.Warn("Failed to load conversations", "userID", userID, "error", err)
		}
	}
	return c
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+UserHeader)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error("API Error", "status", status, "error", err)
	} else {
		s.log.Debug("API Error", "status", status, "error", err)
	}
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps controller and store errors to HTTP statuses.
func statusFor(err error) int {
	var se *agent.StatusError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, chat.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrNoUser):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrEmptyInput), errors.Is(err, chat.ErrNoConversation),
		errors.Is(err, chat.ErrNoPrompt), errors.Is(err, chat.ErrInvalidFeedback):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrBusy), errors.Is(err, context.Canceled):
		return http.StatusConflict
	case errors.As(err, &se):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
