package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/relay/internal/domain"
	"github.com/soyeahso/relay/internal/logging"
)

// AssistantsClient is a direct HTTP client for an OpenAI-compatible
// assistants API (threads / runs / streamed events).
type AssistantsClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *logging.Logger

	mu      sync.Mutex
	threads map[string]string // "agent:user" → thread ID
}

// NewAssistantsClient creates an assistants API client. timeout bounds
// individual non-streaming requests; streaming requests are bounded by
// the caller's context.
func NewAssistantsClient(baseURL, apiKey string, timeout time.Duration, log *logging.Logger) *AssistantsClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &AssistantsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		log:     log.Sub("upstream"),
		threads: make(map[string]string),
	}
}

// EnsureThread returns the cached thread for the (agent, user) pair or
// creates a new one.
func (c *AssistantsClient) EnsureThread(ctx context.Context, agentID, userID string) (string, error) {
	key := agentID + ":" + userID

	c.mu.Lock()
	if id, ok := c.threads[key]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	var thread struct {
		ID string `json:"id"`
	}
	if err := c.postJSON(ctx, "/threads", map[string]any{}, &thread); err != nil {
		return "", fmt.Errorf("creating thread: %w", err)
	}

	c.mu.Lock()
	c.threads[key] = thread.ID
	c.mu.Unlock()

	c.log.Info().Str("thread", thread.ID).Str("agent", agentID).Str("user", userID).Msg("thread created")
	return thread.ID, nil
}

// SubmitUserMessage appends a user message to the thread.
func (c *AssistantsClient) SubmitUserMessage(ctx context.Context, threadID, text, userID string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("message cannot be empty")
	}

	body := map[string]any{
		"role":    "user",
		"content": text,
	}
	if userID != "" {
		body["metadata"] = map[string]string{"user_id": userID}
	}

	var msg struct {
		ID string `json:"id"`
	}
	if err := c.postJSON(ctx, "/threads/"+threadID+"/messages", body, &msg); err != nil {
		return "", fmt.Errorf("adding message to thread %s: %w", threadID, err)
	}
	return msg.ID, nil
}

// StartRun starts a streaming run and returns its notification stream.
func (c *AssistantsClient) StartRun(ctx context.Context, threadID, agentID string) (<-chan Notification, error) {
	body := map[string]any{
		"assistant_id": agentID,
		"stream":       true,
	}
	return c.openStream(ctx, "/threads/"+threadID+"/runs", body)
}

// SubmitToolResults resumes a suspended run with the given tool outputs
// and returns the continuation stream.
func (c *AssistantsClient) SubmitToolResults(ctx context.Context, threadID, runID string, results []domain.ToolResult) (<-chan Notification, error) {
	outputs := make([]map[string]string, len(results))
	for i, r := range results {
		outputs[i] = map[string]string{
			"tool_call_id": r.CallID,
			"output":       r.Output,
		}
	}
	body := map[string]any{
		"tool_outputs": outputs,
		"stream":       true,
	}
	return c.openStream(ctx, "/threads/"+threadID+"/runs/"+runID+"/submit_tool_outputs", body)
}

// postJSON issues a non-streaming POST and decodes the JSON response.
func (c *AssistantsClient) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

// openStream issues a streaming POST. The request and status check are
// synchronous, so a transport failure before any event surfaces as an
// error return; after that, failures surface as an error notification
// followed by channel close.
func (c *AssistantsClient) openStream(ctx context.Context, path string, body any) (<-chan Notification, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	// Streaming requests must not be cut off by the client timeout.
	streamClient := &http.Client{Transport: c.client.Transport}

	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	notes := make(chan Notification)
	go c.consumeStream(resp.Body, notes)
	return notes, nil
}

func (c *AssistantsClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
}

// consumeStream parses the SSE body into notifications until EOF.
func (c *AssistantsClient) consumeStream(body io.ReadCloser, notes chan<- Notification) {
	defer close(notes)
	defer body.Close()

	err := scanEvents(body, func(name, data string) {
		c.handleProviderEvent(name, data, notes)
	})
	if err != nil {
		notes <- Notification{Type: NoteError, Err: fmt.Sprintf("stream read: %v", err)}
	}
}

// scanEvents reads server-sent events from r, calling fn once per
// complete event. Consecutive data lines of one event are joined with
// newlines, as the SSE format prescribes.
func scanEvents(r io.Reader, fn func(name, data string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var eventName string
	var data strings.Builder

	flush := func() {
		if data.Len() == 0 {
			return
		}
		fn(eventName, data.String())
		eventName = ""
		data.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	flush()
	return scanner.Err()
}

// handleProviderEvent maps one provider SSE event onto a Notification.
// Event types the router has no use for are dropped here.
func (c *AssistantsClient) handleProviderEvent(name, data string, notes chan<- Notification) {
	if data == "[DONE]" {
		return
	}

	switch name {
	case "thread.run.created":
		var run apiRun
		if err := json.Unmarshal([]byte(data), &run); err != nil {
			c.log.Warn().Err(err).Str("event", name).Msg("unparseable run event")
			return
		}
		notes <- Notification{Type: NoteRunCreated, ThreadID: run.ThreadID, RunID: run.ID}

	case "thread.message.delta":
		var delta apiMessageDelta
		if err := json.Unmarshal([]byte(data), &delta); err != nil {
			c.log.Warn().Err(err).Str("event", name).Msg("unparseable message delta")
			return
		}
		text := joinTextBlocks(delta.Delta.Content)
		if text == "" {
			return
		}
		notes <- Notification{Type: NoteMessageDelta, MessageID: delta.ID, TextDelta: text}

	case "thread.message.completed":
		var msg apiMessage
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			c.log.Warn().Err(err).Str("event", name).Msg("unparseable message")
			return
		}
		notes <- Notification{
			Type:      NoteMessageCompleted,
			ThreadID:  msg.ThreadID,
			MessageID: msg.ID,
			Text:      joinTextBlocks(msg.Content),
		}

	case "thread.run.requires_action":
		var run apiRun
		if err := json.Unmarshal([]byte(data), &run); err != nil {
			c.log.Warn().Err(err).Str("event", name).Msg("unparseable run event")
			return
		}
		if run.RequiredAction == nil {
			c.log.Warn().Str("run", run.ID).Msg("requires_action without required_action payload")
			return
		}
		calls := make([]domain.ToolCall, 0, len(run.RequiredAction.SubmitToolOutputs.ToolCalls))
		for _, tc := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
			args := map[string]any{}
			if tc.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
					c.log.Warn().Err(err).Str("call", tc.ID).Msg("bad tool arguments JSON")
					args = map[string]any{}
				}
			}
			calls = append(calls, domain.ToolCall{
				CallID:    tc.ID,
				Name:      tc.Function.Name,
				Arguments: args,
				RunID:     run.ID,
			})
		}
		notes <- Notification{Type: NoteRequiresAction, ThreadID: run.ThreadID, RunID: run.ID, ToolCalls: calls}

	case "thread.run.completed":
		c.emitTerminal(data, NoteRunCompleted, domain.RunCompleted, notes)
	case "thread.run.failed", "thread.run.expired":
		c.emitTerminal(data, NoteRunFailed, domain.RunFailed, notes)
	case "thread.run.cancelled":
		c.emitTerminal(data, NoteRunCancelled, domain.RunCancelled, notes)

	case "error":
		notes <- Notification{Type: NoteError, Err: data}

	default:
		c.log.Debug().Str("event", name).Msg("ignoring provider event")
	}
}

func (c *AssistantsClient) emitTerminal(data string, nt NotificationType, status domain.RunStatus, notes chan<- Notification) {
	var run apiRun
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		c.log.Warn().Err(err).Msg("unparseable terminal run event")
	}
	notes <- Notification{Type: nt, ThreadID: run.ThreadID, RunID: run.ID, Status: status}
}

func joinTextBlocks(blocks []apiContentBlock) string {
	var b strings.Builder
	for _, blk := range blocks {
		if blk.Type == "text" {
			b.WriteString(blk.Text.Value)
		}
	}
	return b.String()
}

// API wire structures.

type apiContentBlock struct {
	Type string `json:"type"`
	Text struct {
		Value string `json:"value"`
	} `json:"text"`
}

type apiMessage struct {
	ID       string            `json:"id"`
	ThreadID string            `json:"thread_id"`
	Content  []apiContentBlock `json:"content"`
}

type apiMessageDelta struct {
	ID    string `json:"id"`
	Delta struct {
		Content []apiContentBlock `json:"content"`
	} `json:"delta"`
}

type apiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type apiRun struct {
	ID             string `json:"id"`
	ThreadID       string `json:"thread_id"`
	Status         string `json:"status"`
	RequiredAction *struct {
		Type              string `json:"type"`
		SubmitToolOutputs struct {
			ToolCalls []apiToolCall `json:"tool_calls"`
		} `json:"submit_tool_outputs"`
	} `json:"required_action"`
}
