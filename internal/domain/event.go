package domain

import "time"

// EventKind classifies a pipeline event.
type EventKind string

const (
	// KindFragment is an incremental piece of an in-progress assistant message.
	KindFragment EventKind = "fragment"
	// KindFinalized carries the full text of a completed assistant message.
	KindFinalized EventKind = "finalized"
	// KindToolCall records that a local tool was invoked on behalf of a run.
	KindToolCall EventKind = "tool_call"
	// KindStatus reports a run reaching a terminal state.
	KindStatus EventKind = "status"
	// KindError reports a transport or run failure.
	KindError EventKind = "error"
	// KindGap marks a discontinuity in a consumer's event sequence,
	// emitted when history has been evicted past its watermark or the
	// consumer's queue overflowed.
	KindGap EventKind = "gap"
)

// RunStatus is the terminal state of a run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Event is a single, immutable pipeline event. Seq is assigned per
// conversation and is strictly increasing; it is the sole ordering key —
// consumers must never reorder by Timestamp.
type Event struct {
	Kind           EventKind `json:"kind"`
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId,omitempty"`
	Seq            int64     `json:"seq"`
	Timestamp      time.Time `json:"timestamp"`

	// Text is the delta for fragment events and the full accumulated
	// text for finalized events.
	Text     string    `json:"text,omitempty"`
	ToolName string    `json:"toolName,omitempty"`
	CallID   string    `json:"callId,omitempty"`
	Status   RunStatus `json:"status,omitempty"`
	Error    string    `json:"error,omitempty"`
}
