package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/relay/internal/domain"
	"github.com/soyeahso/relay/internal/logging"
)

// Invoker executes tool calls and packages the outcome. It never
// returns an error: every failure mode (unknown tool, tool error,
// panic, timeout) becomes a failure envelope so the run can always be
// resumed.
type Invoker struct {
	registry  *Registry
	truncator *Truncator
	timeout   time.Duration
	log       *logging.Logger
}

// NewInvoker creates an invoker. timeout <= 0 disables the per-call
// deadline.
func NewInvoker(registry *Registry, truncator *Truncator, timeout time.Duration, log *logging.Logger) *Invoker {
	return &Invoker{
		registry:  registry,
		truncator: truncator,
		timeout:   timeout,
		log:       log.Sub("tools"),
	}
}

// Invoke executes a single tool call and returns its serialized,
// budget-capped envelope.
func (inv *Invoker) Invoke(ctx context.Context, call domain.ToolCall) domain.ToolResult {
	env := inv.execute(ctx, call)

	payload, err := json.Marshal(env)
	if err != nil {
		// Result contained something unserializable; report that
		// instead of the result.
		inv.log.Warn().Err(err).Str("tool", call.Name).Msg("unserializable tool result")
		payload, _ = json.Marshal(domain.Envelope{
			Status:  false,
			Message: fmt.Sprintf("tool %s returned an unserializable result", call.Name),
		})
	}

	return domain.ToolResult{
		CallID: call.CallID,
		Output: inv.truncator.Truncate(string(payload)),
	}
}

// InvokeBatch executes the calls concurrently and returns results in
// call order.
func (inv *Invoker) InvokeBatch(ctx context.Context, calls []domain.ToolCall) []domain.ToolResult {
	results := make([]domain.ToolResult, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = inv.Invoke(gctx, call)
			return nil
		})
	}
	g.Wait()
	return results
}

func (inv *Invoker) execute(ctx context.Context, call domain.ToolCall) domain.Envelope {
	tool := inv.registry.Get(call.Name)
	if tool == nil {
		inv.log.Warn().Str("tool", call.Name).Str("call", call.CallID).Msg("unknown tool requested")
		return domain.Envelope{Status: false, Message: "unknown tool: " + call.Name}
	}

	if inv.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		result, err := tool.Execute(ctx, call.Arguments)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			inv.log.Warn().Err(out.err).Str("tool", call.Name).Str("call", call.CallID).Msg("tool failed")
			return domain.Envelope{Status: false, Message: out.err.Error()}
		}
		inv.log.Debug().
			Str("tool", call.Name).
			Str("call", call.CallID).
			Dur("elapsed", time.Since(start)).
			Msg("tool executed")
		return domain.Envelope{Status: true, Message: "Success", Result: out.result}

	case <-ctx.Done():
		inv.log.Warn().Str("tool", call.Name).Str("call", call.CallID).Msg("tool timed out")
		return domain.Envelope{Status: false, Message: fmt.Sprintf("tool %s timed out", call.Name)}
	}
}
