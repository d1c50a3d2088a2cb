// Package conversation tracks per-conversation state: the cached
// upstream thread, the active run guard, the sequence counter, and the
// rolling event history. A conversation exists per (agent, user) pair.
package conversation

import (
	"errors"
	"sync"
	"time"

	"github.com/soyeahso/relay/internal/domain"
	"github.com/soyeahso/relay/internal/history"
)

// ErrRunActive is returned when a new run is requested while another run
// is still active on the same conversation. Two concurrent runs on one
// thread corrupt tool-call bookkeeping, so this is rejected at the entry
// point rather than queued.
var ErrRunActive = errors.New("a run is already active for this conversation")

// Session is the mutable state of one conversation. All fields below the
// mutex are guarded by it; the router and the push-stream multiplexer
// share this lock so that history appends, fan-out, and consumer
// backfills are mutually ordered.
type Session struct {
	ID      string
	AgentID string
	UserID  string

	mu        sync.Mutex
	threadID  string
	activeRun bool
	runID     string
	lastSeq   int64
	hist      *history.Buffer
	consumers int
}

// newSession creates a session with an empty history of the given capacity.
func newSession(id, agentID, userID string, capacity int) *Session {
	return &Session{
		ID:      id,
		AgentID: agentID,
		UserID:  userID,
		hist:    history.New(capacity),
	}
}

// TryAcquireRun reserves the session for a new run. It fails with
// ErrRunActive if a run is already in flight.
func (s *Session) TryAcquireRun() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeRun {
		return ErrRunActive
	}
	s.activeRun = true
	s.runID = ""
	return nil
}

// SetRunID records the upstream run ID once the run has started.
func (s *Session) SetRunID(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID = runID
}

// RunID returns the active run ID, or empty if no run is active.
func (s *Session) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeRun {
		return ""
	}
	return s.runID
}

// ReleaseRun clears the active run. Safe to call when no run is active.
func (s *Session) ReleaseRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeRun = false
	s.runID = ""
}

// SetThreadID caches the upstream thread for the session's lifetime.
func (s *Session) SetThreadID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threadID = id
}

// ThreadID returns the cached upstream thread ID, or empty if none yet.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// Append assigns the next sequence number to evt, stamps it, appends it
// to the history, and then calls deliver — all while holding the session
// lock. Appending before delivering guarantees a consumer attaching
// concurrently never observes an event via fan-out that is absent from
// backfill. The stamped event is returned.
func (s *Session) Append(evt domain.Event, deliver func(domain.Event)) domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSeq++
	evt.Seq = s.lastSeq
	evt.ConversationID = s.ID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	s.hist.Append(evt)
	if deliver != nil {
		deliver(evt)
	}
	return evt
}

// Backfill drains the history for all events past watermark and hands
// them to attach while holding the session lock, so the caller can
// register a live consumer with no window for a concurrent Append to
// slip between backfill and live delivery. gapped reports whether the
// watermark predates the retained window; gapSeq is the boundary to use
// for a gap marker.
func (s *Session) Backfill(watermark int64, attach func(events []domain.Event, gapped bool, gapSeq int64)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, gapped := s.hist.After(watermark)
	attach(events, gapped, s.hist.GapSeq())
}

// LastSeq returns the most recently assigned sequence number.
func (s *Session) LastSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

// AddConsumer increments the attached-consumer count.
func (s *Session) AddConsumer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumers++
}

// RemoveConsumer decrements the attached-consumer count.
func (s *Session) RemoveConsumer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumers > 0 {
		s.consumers--
	}
}

// Consumers returns the number of currently attached push consumers.
func (s *Session) Consumers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumers
}
