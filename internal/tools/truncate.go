package tools

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultTokenBudget caps serialized tool output fed back to the
// assistant. Large enough for any reasonable result, small enough to
// keep a runaway tool from blowing the model's context window.
const DefaultTokenBudget = 124000

const truncationMarker = "[truncated] "

// Encoding is the tokenizer surface the truncator needs. Satisfied by
// *tiktoken.Tiktoken; tests substitute a deterministic fake.
type Encoding interface {
	Encode(text string, allowedSpecial, disallowedSpecial []string) []int
	Decode(tokens []int) string
}

// Truncator enforces a token budget on tool output, keeping the tail.
// The tail matters more than the head for tool results: logs, query
// output, and file dumps put the conclusion last.
type Truncator struct {
	enc    Encoding
	budget int
}

// NewTruncator builds a truncator using the tokenizer for the given
// model, falling back to cl100k_base for unknown models. budget <= 0
// selects DefaultTokenBudget.
func NewTruncator(model string, budget int) (*Truncator, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	return NewTruncatorWith(enc, budget), nil
}

// NewTruncatorWith builds a truncator over an explicit tokenizer.
func NewTruncatorWith(enc Encoding, budget int) *Truncator {
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	return &Truncator{enc: enc, budget: budget}
}

// Truncate returns text unchanged when it fits the budget; otherwise it
// returns the marker plus the largest tail that keeps the whole result
// within budget. Applying Truncate to its own output is a no-op.
func (t *Truncator) Truncate(text string) string {
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= t.budget {
		return text
	}

	markerLen := len(t.enc.Encode(truncationMarker, nil, nil))
	keep := t.budget - markerLen
	if keep <= 0 {
		return strings.TrimRight(truncationMarker, " ")
	}

	// Re-encoding marker+tail can land above budget at token
	// boundaries, so shrink until it fits.
	for keep > 0 {
		tail := t.enc.Decode(tokens[len(tokens)-keep:])
		out := truncationMarker + tail
		if len(t.enc.Encode(out, nil, nil)) <= t.budget {
			return out
		}
		keep--
	}
	return strings.TrimRight(truncationMarker, " ")
}

// Budget returns the configured token budget.
func (t *Truncator) Budget() int {
	return t.budget
}
