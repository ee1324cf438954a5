package agentserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/nstogner/agentchat/pkg/agent"
	"github.com/nstogner/agentchat/pkg/domain"
	"github.com/nstogner/agentchat/pkg/model/echo"
	"github.com/nstogner/agentchat/pkg/tools"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewHandler(echo.New(), tools.Builtin(t.TempDir()), echo.ModelName, nil)
}

func invoke(t *testing.T, h *Handler, req agent.Request) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/agent/invoke", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	h.Engine().ServeHTTP(w, r)
	return w
}

func TestInvokeStreaming(t *testing.T) {
	w := invoke(t, newTestHandler(t), agent.Request{UserMessage: "hello", Stream: true})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	if got := w.Body.String(); got != "Echo from echo-1: hello" {
		t.Errorf("body = %q", got)
	}
}

func TestInvokeStructuredText(t *testing.T) {
	w := invoke(t, newTestHandler(t), agent.Request{UserMessage: "hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	var resp agent.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.OutputMessage != "Echo from echo-1: hello" || len(resp.ToolRequests) != 0 {
		t.Errorf("response = %+v", resp)
	}
}

func TestInvokeStructuredToolRound(t *testing.T) {
	w := invoke(t, newTestHandler(t), agent.Request{UserMessage: "what is the current_time?"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	var resp agent.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.ToolRequests) != 1 || len(resp.ToolResults) != 1 {
		t.Fatalf("response = %+v", resp)
	}
	call, result := resp.ToolRequests[0], resp.ToolResults[0]
	if call.Name != "current_time" || call.ID == "" || result.ID != call.ID {
		t.Errorf("call = %+v result = %+v", call, result)
	}
	if result.Status != domain.ToolStatusSuccess || result.Output == nil {
		t.Errorf("result = %+v", result)
	}
	if !strings.HasPrefix(resp.OutputMessage, "Tool current_time returned: ") {
		t.Errorf("output = %q", resp.OutputMessage)
	}
	if len(resp.ChatEvents) != 1 || resp.ChatEvents[0].Detail != "current_time" {
		t.Errorf("events = %+v", resp.ChatEvents)
	}
}

func TestInvokeToolFailure(t *testing.T) {
	// read_file without a path fails; the failure is reported, not fatal.
	w := invoke(t, newTestHandler(t), agent.Request{UserMessage: "use read_file"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	var resp agent.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.ToolResults) != 1 {
		t.Fatalf("results = %+v", resp.ToolResults)
	}
	r := resp.ToolResults[0]
	if r.Status != domain.ToolStatusError || r.ErrorDetails == nil || r.ErrorDetails.Message == "" {
		t.Errorf("result = %+v", r)
	}
}

func TestInvokeBadRequest(t *testing.T) {
	h := newTestHandler(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/agent/invoke", strings.NewReader("{"))
	h.Engine().ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", w.Code)
	}

	if w := invoke(t, h, agent.Request{UserMessage: "  "}); w.Code != http.StatusBadRequest {
		t.Errorf("empty message status = %d", w.Code)
	}
}

func TestModelsAndHealth(t *testing.T) {
	h := newTestHandler(t)
	for _, path := range []string{"/healthz", "/api/agent/models"} {
		w := httptest.NewRecorder()
		h.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("GET %s = %d", path, w.Code)
		}
	}
}

func TestClientAgainstEndpoint(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(t).Engine())
	defer srv.Close()
	client := agent.NewClient(srv.URL+"/api/agent/invoke", 0, nil)

	var chunks []string
	res, err := client.Invoke(context.Background(), &agent.Request{UserMessage: "hi there", Stream: true}, func(s string) {
		chunks = append(chunks, s)
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Streamed || res.Text != "Echo from echo-1: hi there" || strings.Join(chunks, "") != res.Text {
		t.Errorf("streamed result = %+v chunks = %q", res, chunks)
	}

	res, err = client.Invoke(context.Background(), &agent.Request{UserMessage: "current_time"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Streamed || len(res.ToolRequests) != 1 {
		t.Errorf("structured result = %+v", res)
	}
}

func TestConversation(t *testing.T) {
	req := &agent.Request{
		UserMessage: "again",
		FileDataURI: "data:image/png;base64,AAAA",
		History: []domain.Message{
			{IsUser: true, Content: "hi"},
			{Sender: domain.SenderAgent, Content: "hello"},
			{Sender: domain.SenderSystem, Content: "Using tool: x"},
			{Sender: domain.SenderAgent, Content: "boom", IsError: true},
			{IsUser: true, Content: "again"},
		},
	}
	msgs := conversation(req)
	var got []string
	for _, m := range msgs {
		got = append(got, string(m.Role)+":"+m.Text())
	}
	want := []string{"user:hi", "assistant:hello", "user:again\n[attached file: image/png]"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("conversation = %q, want %q", got, want)
	}
}
