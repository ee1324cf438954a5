// Package agent is the HTTP client for the agent invocation endpoint.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nstogner/agentchat/pkg/domain"
)

// Request is the body POSTed to the invocation endpoint. The config fields
// are opaque to this client and forwarded verbatim.
type Request struct {
	UserMessage    string           `json:"userMessage"`
	History        []domain.Message `json:"history"`
	UserID         string           `json:"userId"`
	Stream         bool             `json:"stream"`
	FileDataURI    string           `json:"fileDataUri,omitempty"`
	AudioDataURI   string           `json:"audioDataUri,omitempty"`
	ConversationID string           `json:"conversationId"`
	AgentConfig    json.RawMessage  `json:"agentConfig"`
	UserChatConfig json.RawMessage  `json:"userChatConfig,omitempty"`
	TestRunConfig  json.RawMessage  `json:"testRunConfig,omitempty"`
}

// Response is the structured (non-streamed) reply of the endpoint.
type Response struct {
	OutputMessage string                    `json:"outputMessage,omitempty"`
	ToolRequests  []domain.ToolCallData     `json:"toolRequests,omitempty"`
	ToolResults   []domain.ToolResponseData `json:"toolResults,omitempty"`
	ChatEvents    []domain.ChatEvent        `json:"chatEvents,omitempty"`
}

// Result is what Invoke produced. Streamed is true when the body was raw
// text, in which case Text holds the accumulated body and the embedded
// Response is empty.
type Result struct {
	Response
	Streamed bool
	Text     string
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("agent request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("agent request failed with status %d: %s", e.StatusCode, e.Body)
}

// Client calls the agent invocation endpoint.
type Client struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// NewClient returns a client for the endpoint at url. A zero timeout means
// requests are bounded only by their context.
func NewClient(url string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    logger,
	}
}

const maxErrorBody = 512

// Invoke sends req and reconciles the reply. For streamed bodies onChunk is
// called with every piece of text as it is read.
func (c *Client) Invoke(ctx context.Context, req *Request, onChunk func(string)) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.log.Debug("Invoking agent", "url", c.url, "conversationID", req.ConversationID, "history", len(req.History), "stream", req.Stream)
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if isJSON(resp.Header.Get("Content-Type")) {
		var out Result
		if err := json.NewDecoder(resp.Body).Decode(&out.Response); err != nil {
			return nil, fmt.Errorf("failed to decode agent response: %w", err)
		}
		return &out, nil
	}

	text, err := readStream(resp.Body, onChunk)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent stream: %w", err)
	}
	return &Result{Streamed: true, Text: text}, nil
}

// readStream forwards the body as it arrives. A multi-byte character split
// across reads is held back until it is complete.
func readStream(r io.Reader, onChunk func(string)) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 4096)
	var carry []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			cut := completePrefix(data)
			carry = append([]byte(nil), data[cut:]...)
			if cut > 0 {
				chunk := string(data[:cut])
				sb.WriteString(chunk)
				if onChunk != nil {
					onChunk(chunk)
				}
			}
		}
		if err != nil {
			if len(carry) > 0 {
				chunk := string(carry)
				sb.WriteString(chunk)
				if onChunk != nil {
					onChunk(chunk)
				}
			}
			if errors.Is(err, io.EOF) {
				return sb.String(), nil
			}
			return sb.String(), err
		}
	}
}

// completePrefix returns the length of b without a trailing incomplete
// UTF-8 sequence.
func completePrefix(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.HasPrefix(strings.ToLower(contentType), "application/json")
	}
	return mt == "application/json"
}
