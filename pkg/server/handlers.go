package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nstogner/agentchat/pkg/chat"
	"github.com/nstogner/agentchat/pkg/domain"
)

type titleRequest struct {
	Title string `json:"title"`
}

type submitRequest struct {
	Text           string           `json:"text"`
	File           *chat.Attachment `json:"file,omitempty"`
	AudioDataURI   string           `json:"audioDataUri,omitempty"`
	Stream         *bool            `json:"stream,omitempty"`
	UserChatConfig json.RawMessage  `json:"userChatConfig,omitempty"`
	TestRunConfig  json.RawMessage  `json:"testRunConfig,omitempty"`
}

type feedbackRequest struct {
	Feedback domain.Feedback `json:"feedback"`
}

type regenerateRequest struct {
	Stream         *bool           `json:"stream,omitempty"`
	UserChatConfig json.RawMessage `json:"userChatConfig,omitempty"`
	TestRunConfig  json.RawMessage `json:"testRunConfig,omitempty"`
}

// decode reads an optional JSON body.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) stream(override *bool) bool {
	if override != nil {
		return *override
	}
	return s.opts.Stream
}

// activate makes id the controller's active conversation when it isn't.
func activate(ctx context.Context, c *chat.Controller, id string) error {
	if c.State().ActiveConversationID == id {
		return nil
	}
	return c.SelectConversation(ctx, id)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request, c *chat.Controller) {
	s.jsonResponse(w, http.StatusOK, c.State())
}

// --- Conversations ---

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request, c *chat.Controller) {
	if err := c.LoadConversations(r.Context()); err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	s.jsonResponse(w, http.StatusOK, c.State().Conversations)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request, c *chat.Controller) {
	var req titleRequest
	if err := decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	conv, err := c.NewConversation(r.Context(), req.Title)
	if err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, conv)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request, c *chat.Controller) {
	if err := c.SelectConversation(r.Context(), r.PathValue("id")); err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	s.jsonResponse(w, http.StatusOK, c.State())
}

func (s *Server) handleRenameConversation(w http.ResponseWriter, r *http.Request, c *chat.Controller) {
	var req titleRequest
	if err := decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	id := r.PathValue("id")
	if err := c.RenameConversation(r.Context(), id, req.Title); err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	s.jsonResponse(w, http.StatusOK, c.State().Conversations)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request, c *chat.Controller) {
	if err := c.DeleteConversation(r.Context(), r.PathValue("id")); err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Messages ---

// handleSubmit blocks until the agent's reply is settled and returns the
// resulting state.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, c *chat.Controller) {
	var req submitRequest
	if err := decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if err := activate(r.Context(), c, r.PathValue("id")); err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	err := c.Submit(r.Context(), chat.SubmitRequest{
		Text:           req.Text,
		File:           req.File,
		AudioDataURI:   req.AudioDataURI,
		Stream:         s.stream(req.Stream),
		UserChatConfig: req.UserChatConfig,
		TestRunConfig:  req.TestRunConfig,
	})
	if err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	s.jsonResponse(w, http.StatusOK, c.State())
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request, c *chat.Controller) {
	var req feedbackRequest
	if err := decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	id := r.PathValue("id")
	if err := activate(r.Context(), c, id); err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	if err := c.SetFeedback(r.Context(), id, r.PathValue("messageId"), req.Feedback); err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	s.jsonResponse(w, http.StatusOK, c.State())
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request, c *chat.Controller) {
	var req regenerateRequest
	if err := decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if err := activate(r.Context(), c, r.PathValue("id")); err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	err := c.Regenerate(r.Context(), chat.RegenerateRequest{
		MessageID:      r.PathValue("messageId"),
		Stream:         s.stream(req.Stream),
		UserChatConfig: req.UserChatConfig,
		TestRunConfig:  req.TestRunConfig,
	})
	if err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	s.jsonResponse(w, http.StatusOK, c.State())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, c *chat.Controller) {
	c.Cancel()
	w.WriteHeader(http.StatusAccepted)
}
