package upstream

import (
	"context"

	"github.com/soyeahso/relay/internal/domain"
)

// MockClient is a test double for Client. Each method delegates to the
// corresponding func field when set and falls back to a benign default
// otherwise.
type MockClient struct {
	EnsureThreadFunc      func(ctx context.Context, agentID, userID string) (string, error)
	SubmitUserMessageFunc func(ctx context.Context, threadID, text, userID string) (string, error)
	StartRunFunc          func(ctx context.Context, threadID, agentID string) (<-chan Notification, error)
	SubmitToolResultsFunc func(ctx context.Context, threadID, runID string, results []domain.ToolResult) (<-chan Notification, error)
}

func (m *MockClient) EnsureThread(ctx context.Context, agentID, userID string) (string, error) {
	if m.EnsureThreadFunc != nil {
		return m.EnsureThreadFunc(ctx, agentID, userID)
	}
	return "thread_mock", nil
}

func (m *MockClient) SubmitUserMessage(ctx context.Context, threadID, text, userID string) (string, error) {
	if m.SubmitUserMessageFunc != nil {
		return m.SubmitUserMessageFunc(ctx, threadID, text, userID)
	}
	return "msg_mock", nil
}

func (m *MockClient) StartRun(ctx context.Context, threadID, agentID string) (<-chan Notification, error) {
	if m.StartRunFunc != nil {
		return m.StartRunFunc(ctx, threadID, agentID)
	}
	return Play(), nil
}

func (m *MockClient) SubmitToolResults(ctx context.Context, threadID, runID string, results []domain.ToolResult) (<-chan Notification, error) {
	if m.SubmitToolResultsFunc != nil {
		return m.SubmitToolResultsFunc(ctx, threadID, runID, results)
	}
	return Play(), nil
}

// Play returns a closed channel that yields the given notifications in
// order, mimicking a finished run stream.
func Play(notes ...Notification) <-chan Notification {
	ch := make(chan Notification, len(notes))
	for _, n := range notes {
		ch <- n
	}
	close(ch)
	return ch
}
