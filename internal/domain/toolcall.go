package domain

// ToolCall is a request, emitted mid-run by the upstream service, to
// execute a named local function and feed the result back before the
// run can finish.
type ToolCall struct {
	CallID    string         `json:"callId"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	RunID     string         `json:"runId,omitempty"`
}

// Envelope is the structured outcome of a tool invocation, submitted
// back to the upstream run. A failure envelope (Status false) is still
// a valid submission — the run resumes and the agent sees the failure.
type Envelope struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Result  any    `json:"result"`
}

// ToolResult pairs a tool call ID with its serialized (and possibly
// truncated) envelope, ready for submission to the upstream run.
type ToolResult struct {
	CallID string `json:"callId"`
	Output string `json:"output"`
}
