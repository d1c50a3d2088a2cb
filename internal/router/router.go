// Package router orchestrates a conversation run: it feeds user
// messages upstream, consumes the run's event stream, executes
// requested tool calls, and turns everything into sequenced
// conversation events fanned out to the output channels.
package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/soyeahso/relay/internal/channel"
	"github.com/soyeahso/relay/internal/conversation"
	"github.com/soyeahso/relay/internal/domain"
	"github.com/soyeahso/relay/internal/logging"
	"github.com/soyeahso/relay/internal/tools"
	"github.com/soyeahso/relay/internal/upstream"
)

// TranscriptStore persists durable events. Persistence is best-effort:
// a store failure is logged, never surfaced to the run.
type TranscriptStore interface {
	SaveEvent(ctx context.Context, evt domain.Event) error
}

// Router drives runs for a single agent.
type Router struct {
	upstream      upstream.Client
	invoker       *tools.Invoker
	conversations *conversation.Manager
	channels      *channel.Registry
	transcripts   TranscriptStore
	agentID       string
	log           *logging.Logger
}

// New creates a router. transcripts may be nil to disable persistence.
func New(up upstream.Client, invoker *tools.Invoker, conversations *conversation.Manager, channels *channel.Registry, transcripts TranscriptStore, agentID string, log *logging.Logger) *Router {
	return &Router{
		upstream:      up,
		invoker:       invoker,
		conversations: conversations,
		channels:      channels,
		transcripts:   transcripts,
		agentID:       agentID,
		log:           log.Sub("router"),
	}
}

// Dispatch submits a user message and starts its run, consuming the run
// stream in the background. It returns conversation.ErrRunActive when a
// run is already in flight, or a transport error when the run could not
// be started; a nil return means the run is underway. ctx must outlive
// the run, not just the request that triggered it.
func (r *Router) Dispatch(ctx context.Context, userID, text string) error {
	sess, notes, err := r.begin(ctx, userID, text)
	if err != nil {
		return err
	}
	go r.consume(ctx, sess, notes)
	return nil
}

// DispatchAndWait is Dispatch for callers that want the run's outcome:
// it blocks until the run reaches a terminal state.
func (r *Router) DispatchAndWait(ctx context.Context, userID, text string) error {
	sess, notes, err := r.begin(ctx, userID, text)
	if err != nil {
		return err
	}
	r.consume(ctx, sess, notes)
	return nil
}

// begin reserves the session, ensures the upstream thread, submits the
// message, and opens the run stream. On any failure the session is
// released so the conversation is not wedged.
func (r *Router) begin(ctx context.Context, userID, text string) (*conversation.Session, <-chan upstream.Notification, error) {
	sess := r.conversations.GetOrCreate(r.agentID, userID)

	if err := sess.TryAcquireRun(); err != nil {
		return nil, nil, err
	}

	notes, err := r.start(ctx, sess, text)
	if err != nil {
		sess.ReleaseRun()
		return nil, nil, err
	}
	return sess, notes, nil
}

func (r *Router) start(ctx context.Context, sess *conversation.Session, text string) (<-chan upstream.Notification, error) {
	threadID := sess.ThreadID()
	if threadID == "" {
		id, err := r.upstream.EnsureThread(ctx, sess.AgentID, sess.UserID)
		if err != nil {
			return nil, fmt.Errorf("ensuring thread: %w", err)
		}
		sess.SetThreadID(id)
		threadID = id
	}

	if _, err := r.upstream.SubmitUserMessage(ctx, threadID, text, sess.UserID); err != nil {
		return nil, fmt.Errorf("submitting message: %w", err)
	}

	notes, err := r.upstream.StartRun(ctx, threadID, sess.AgentID)
	if err != nil {
		return nil, fmt.Errorf("starting run: %w", err)
	}

	r.log.Info().Str("conversation", sess.ID).Str("thread", threadID).Msg("run started")
	return notes, nil
}

// consume drains the run's notification stream until a terminal state,
// swapping to the continuation stream whenever tool outputs are
// submitted. The session's run slot is released on exit no matter how
// the stream ends.
func (r *Router) consume(ctx context.Context, sess *conversation.Session, notes <-chan upstream.Notification) {
	defer sess.ReleaseRun()

	// Accumulated delta text per message, in case the provider's
	// completion notification omits the full text.
	partial := make(map[string]*strings.Builder)

	terminal := false
	for notes != nil && !terminal {
		n, ok := <-notes
		if !ok {
			// Stream ended without a terminal notification: the
			// transport broke mid-run.
			break
		}

		switch n.Type {
		case upstream.NoteRunCreated:
			sess.SetRunID(n.RunID)

		case upstream.NoteMessageDelta:
			if partial[n.MessageID] == nil {
				partial[n.MessageID] = &strings.Builder{}
			}
			partial[n.MessageID].WriteString(n.TextDelta)
			r.emit(ctx, sess, domain.Event{
				Kind:      domain.KindFragment,
				MessageID: n.MessageID,
				Text:      n.TextDelta,
			})

		case upstream.NoteMessageCompleted:
			text := n.Text
			if text == "" && partial[n.MessageID] != nil {
				text = partial[n.MessageID].String()
			}
			delete(partial, n.MessageID)
			r.emit(ctx, sess, domain.Event{
				Kind:      domain.KindFinalized,
				MessageID: n.MessageID,
				Text:      text,
			})

		case upstream.NoteRequiresAction:
			next, err := r.runTools(ctx, sess, n)
			if err != nil {
				r.emitError(ctx, sess, err)
				return
			}
			notes = next

		case upstream.NoteRunCompleted, upstream.NoteRunFailed, upstream.NoteRunCancelled:
			r.emit(ctx, sess, domain.Event{
				Kind:   domain.KindStatus,
				Status: n.Status,
			})
			terminal = true

		case upstream.NoteError:
			r.emitError(ctx, sess, fmt.Errorf("upstream: %s", n.Err))
			return
		}
	}

	if !terminal {
		r.emitError(ctx, sess, fmt.Errorf("run stream closed before completion"))
		return
	}
	r.log.Info().Str("conversation", sess.ID).Str("run", sess.RunID()).Msg("run finished")
}

// runTools executes the requested tool calls, announces each as an
// event, and resumes the run with the results.
func (r *Router) runTools(ctx context.Context, sess *conversation.Session, n upstream.Notification) (<-chan upstream.Notification, error) {
	for _, call := range n.ToolCalls {
		r.emit(ctx, sess, domain.Event{
			Kind:     domain.KindToolCall,
			ToolName: call.Name,
			CallID:   call.CallID,
		})
	}

	results := r.invoker.InvokeBatch(ctx, n.ToolCalls)

	next, err := r.upstream.SubmitToolResults(ctx, sess.ThreadID(), n.RunID, results)
	if err != nil {
		return nil, fmt.Errorf("submitting tool results: %w", err)
	}
	return next, nil
}

// emit sequences the event, appends it to history, fans it out, and
// persists durable kinds. History and fan-out happen under the session
// lock so an attaching consumer can never see a fan-out-only event.
func (r *Router) emit(ctx context.Context, sess *conversation.Session, evt domain.Event) {
	stamped := sess.Append(evt, func(e domain.Event) {
		r.channels.PublishAll(ctx, e)
	})

	if r.transcripts != nil && durable(stamped.Kind) {
		if err := r.transcripts.SaveEvent(ctx, stamped); err != nil {
			r.log.Warn().Err(err).Str("conversation", sess.ID).Int64("seq", stamped.Seq).Msg("transcript save failed")
		}
	}
}

func (r *Router) emitError(ctx context.Context, sess *conversation.Session, err error) {
	r.log.Error().Err(err).Str("conversation", sess.ID).Msg("run aborted")
	r.emit(ctx, sess, domain.Event{
		Kind:  domain.KindError,
		Error: err.Error(),
	})
}

// durable reports whether an event kind belongs in the transcript.
// Fragments are transient by nature; their text survives in the
// finalized event.
func durable(kind domain.EventKind) bool {
	switch kind {
	case domain.KindFinalized, domain.KindToolCall, domain.KindStatus, domain.KindError:
		return true
	}
	return false
}
