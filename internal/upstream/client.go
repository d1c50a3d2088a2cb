// Package upstream wraps the conversational-agent backend: threads,
// runs, streamed run output, and tool-output submission. Only the event
// shapes the backend emits matter to the rest of the pipeline; they are
// normalized here into Notifications.
package upstream

import (
	"context"

	"github.com/soyeahso/relay/internal/domain"
)

// NotificationType identifies a normalized provider event.
type NotificationType string

const (
	NoteRunCreated       NotificationType = "run.created"
	NoteMessageDelta     NotificationType = "message.delta"
	NoteMessageCompleted NotificationType = "message.completed"
	NoteRequiresAction   NotificationType = "run.requires_action"
	NoteRunCompleted     NotificationType = "run.completed"
	NoteRunFailed        NotificationType = "run.failed"
	NoteRunCancelled     NotificationType = "run.cancelled"
	NoteError            NotificationType = "error"
)

// Notification is one normalized event from the upstream run stream.
type Notification struct {
	Type      NotificationType
	ThreadID  string
	RunID     string
	MessageID string

	// TextDelta carries the incremental text for message.delta.
	TextDelta string
	// Text carries the full message text for message.completed, when
	// the provider includes it.
	Text string

	ToolCalls []domain.ToolCall
	Status    domain.RunStatus
	Err       string
}

// Client is the thread/run gateway contract. StartRun and
// SubmitToolResults return a channel that yields notifications until
// the run reaches a terminal state or the transport breaks; a channel
// closed without a terminal notification signals a mid-stream transport
// failure. Errors returned directly mean the transport failed before
// any event was yielded — retry policy belongs to the caller.
type Client interface {
	// EnsureThread returns the thread for the (agent, user) pair,
	// creating it on first use. Idempotent; the result is cached.
	EnsureThread(ctx context.Context, agentID, userID string) (string, error)

	// SubmitUserMessage appends a user message to the thread and
	// returns its message ID.
	SubmitUserMessage(ctx context.Context, threadID, text, userID string) (string, error)

	// StartRun starts a streaming run on the thread.
	StartRun(ctx context.Context, threadID, agentID string) (<-chan Notification, error)

	// SubmitToolResults feeds tool outputs back into a suspended run
	// and returns the continuation stream of the resumed run.
	SubmitToolResults(ctx context.Context, threadID, runID string, results []domain.ToolResult) (<-chan Notification, error)
}
