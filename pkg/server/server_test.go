package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/nstogner/agentchat/pkg/agent"
	"github.com/nstogner/agentchat/pkg/agentserver"
	"github.com/nstogner/agentchat/pkg/chat"
	"github.com/nstogner/agentchat/pkg/domain"
	"github.com/nstogner/agentchat/pkg/model/echo"
	"github.com/nstogner/agentchat/pkg/store"
	"github.com/nstogner/agentchat/pkg/store/jsonl"
	"github.com/nstogner/agentchat/pkg/tools"
)

// newTestServer wires the chat server to an in-process echo agent.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	agentSrv := httptest.NewServer(agentserver.NewHandler(echo.New(), tools.Builtin(t.TempDir()), echo.ModelName, nil).Engine())
	t.Cleanup(agentSrv.Close)

	st, err := jsonl.New(t.TempDir())
	if err != nil {
		t.Fatalf("jsonl.New: %v", err)
	}
	s := New(st, agent.NewClient(agentSrv.URL+"/api/agent/invoke", 10*time.Second, nil), Options{})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		s.Shutdown(context.Background())
	})
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, srv.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(UserHeader, "user1")
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func texts(msgs []domain.UIMessage) []string {
	var out []string
	for _, m := range msgs {
		out = append(out, string(m.Sender)+":"+m.Text)
	}
	return out
}

func TestRequiresUser(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/state")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestConversationLifecycle(t *testing.T) {
	srv := newTestServer(t)

	var conv domain.Conversation
	if code := do(t, srv, http.MethodPost, "/api/conversations", map[string]string{"title": "Trip"}, &conv); code != http.StatusCreated {
		t.Fatalf("create = %d", code)
	}
	if conv.Title != "Trip" || conv.UserID != "user1" {
		t.Errorf("conversation = %+v", conv)
	}

	var convs []domain.Conversation
	if code := do(t, srv, http.MethodGet, "/api/conversations", nil, &convs); code != http.StatusOK || len(convs) != 1 {
		t.Fatalf("list = %d %+v", code, convs)
	}

	if code := do(t, srv, http.MethodPut, "/api/conversations/"+conv.ID, map[string]string{"title": "Trip to Rome"}, nil); code != http.StatusOK {
		t.Errorf("rename = %d", code)
	}
	if code := do(t, srv, http.MethodPut, "/api/conversations/"+conv.ID, map[string]string{"title": " "}, nil); code != http.StatusBadRequest {
		t.Errorf("blank rename = %d", code)
	}

	var st chat.State
	if code := do(t, srv, http.MethodGet, "/api/conversations/"+conv.ID, nil, &st); code != http.StatusOK {
		t.Fatalf("get = %d", code)
	}
	if st.ActiveConversationID != conv.ID || st.Conversations[0].Title != "Trip to Rome" {
		t.Errorf("state = %+v", st)
	}

	if code := do(t, srv, http.MethodGet, "/api/conversations/missing", nil, nil); code != http.StatusNotFound {
		t.Errorf("get missing = %d", code)
	}

	if code := do(t, srv, http.MethodDelete, "/api/conversations/"+conv.ID, nil, nil); code != http.StatusNoContent {
		t.Errorf("delete = %d", code)
	}
	if code := do(t, srv, http.MethodGet, "/api/conversations", nil, &convs); code != http.StatusOK || len(convs) != 0 {
		t.Errorf("list after delete = %d %+v", code, convs)
	}
}

func TestSubmitFeedbackRegenerate(t *testing.T) {
	srv := newTestServer(t)

	var conv domain.Conversation
	do(t, srv, http.MethodPost, "/api/conversations", map[string]string{"title": "Chat"}, &conv)
	base := "/api/conversations/" + conv.ID

	var st chat.State
	if code := do(t, srv, http.MethodPost, base+"/messages", map[string]any{"text": "hello"}, &st); code != http.StatusOK {
		t.Fatalf("submit = %d", code)
	}
	want := []string{"user:hello", "agent:Echo from echo-1: hello"}
	if got := texts(st.Messages); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("messages = %v, want %v", got, want)
	}
	agentID := st.Messages[1].ID

	if code := do(t, srv, http.MethodPut, base+"/messages/"+agentID+"/feedback", map[string]string{"feedback": "disliked"}, &st); code != http.StatusOK {
		t.Fatalf("feedback = %d", code)
	}
	if st.WaitingForFeedbackOnMessageID != agentID {
		t.Errorf("waiting = %q", st.WaitingForFeedbackOnMessageID)
	}
	if code := do(t, srv, http.MethodPut, base+"/messages/"+agentID+"/feedback", map[string]string{"feedback": "meh"}, nil); code != http.StatusBadRequest {
		t.Errorf("invalid feedback = %d", code)
	}

	if code := do(t, srv, http.MethodPost, base+"/messages", map[string]any{"text": "too terse"}, &st); code != http.StatusOK {
		t.Fatalf("reason submit = %d", code)
	}
	last := st.Messages[len(st.Messages)-1]
	if last.Text != chat.FeedbackConfirmation || st.WaitingForFeedbackOnMessageID != "" {
		t.Errorf("after reason: last = %q waiting = %q", last.Text, st.WaitingForFeedbackOnMessageID)
	}

	if code := do(t, srv, http.MethodPost, base+"/messages/"+agentID+"/regenerate", map[string]any{"stream": true}, &st); code != http.StatusOK {
		t.Fatalf("regenerate = %d", code)
	}
	if got := texts(st.Messages); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("messages after regenerate = %v, want %v", got, want)
	}
	if st.Messages[1].ID == agentID {
		t.Error("regenerated reply kept its id")
	}

	if code := do(t, srv, http.MethodPost, base+"/messages", map[string]any{"text": "   "}, nil); code != http.StatusBadRequest {
		t.Errorf("empty submit = %d", code)
	}
	if code := do(t, srv, http.MethodPost, base+"/messages/nope/regenerate", nil, nil); code != http.StatusNotFound {
		t.Errorf("regenerate unknown = %d", code)
	}
}

func TestChatWebSocket(t *testing.T) {
	srv := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat?user=user1"

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	read := func() outbound {
		t.Helper()
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg outbound
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}
	if first := read(); first.Type != chat.EventStateChanged || first.State == nil {
		t.Fatalf("first message = %+v", first)
	}

	if err := ws.WriteJSON(command{Type: "submit", Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	for {
		msg := read()
		if msg.Type == chat.EventNotice {
			t.Fatalf("notice: %+v", msg.Notice)
		}
		if msg.State == nil || msg.State.IsPending || len(msg.State.Messages) != 2 {
			continue
		}
		if got := msg.State.Messages[1]; got.Text != "Echo from echo-1: hi" || got.Status != domain.StatusCompleted {
			t.Fatalf("reply = %+v", got)
		}
		break
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("get: %w", store.ErrNotFound), http.StatusNotFound},
		{chat.ErrMessageNotFound, http.StatusNotFound},
		{chat.ErrEmptyInput, http.StatusBadRequest},
		{chat.ErrNoPrompt, http.StatusBadRequest},
		{chat.ErrBusy, http.StatusConflict},
		{context.Canceled, http.StatusConflict},
		{chat.ErrNoUser, http.StatusUnauthorized},
		{fmt.Errorf("invoke: %w", &agent.StatusError{StatusCode: 500}), http.StatusBadGateway},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestShutdownTwice(t *testing.T) {
	st, err := jsonl.New(t.TempDir())
	if err != nil {
		t.Fatalf("jsonl.New: %v", err)
	}
	s := New(st, agent.NewClient("http://127.0.0.1:1/api/agent/invoke", time.Second, nil), Options{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	do(t, srv, http.MethodGet, "/api/state", nil, nil)

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
