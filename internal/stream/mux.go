// Package stream multiplexes conversation events to attached push
// consumers. It is the in-process channel behind the websocket
// endpoint: each consumer gets a bounded queue, a history backfill on
// attach, and a gap marker instead of silent loss when it falls behind.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/relay/internal/conversation"
	"github.com/soyeahso/relay/internal/domain"
	"github.com/soyeahso/relay/internal/logging"
)

// DefaultQueueSize bounds each consumer's pending-event queue.
const DefaultQueueSize = 64

// Consumer is one attached subscriber of a conversation's event stream.
type Consumer struct {
	id     string
	convID string
	sess   *conversation.Session
	events chan domain.Event

	// Guarded by the owning Mux's mutex.
	gapSeq int64
	closed bool
}

// Events yields the consumer's event stream. The channel is closed on
// Detach.
func (c *Consumer) Events() <-chan domain.Event {
	return c.events
}

// ConversationID returns the conversation this consumer is attached to.
func (c *Consumer) ConversationID() string {
	return c.convID
}

// Mux fans conversation events out to per-conversation consumers.
type Mux struct {
	queueSize int
	log       *logging.Logger

	mu        sync.Mutex
	consumers map[string]map[string]*Consumer // convID → consumerID → consumer
}

// NewMux creates a multiplexer whose consumers buffer up to queueSize
// events. queueSize <= 0 selects DefaultQueueSize.
func NewMux(queueSize int, log *logging.Logger) *Mux {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Mux{
		queueSize: queueSize,
		log:       log.Sub("stream"),
		consumers: make(map[string]map[string]*Consumer),
	}
}

func (m *Mux) ID() string { return "push" }

func (m *Mux) Start(ctx context.Context) error { return nil }

// Stop detaches every consumer.
func (m *Mux) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, conv := range m.consumers {
		for _, c := range conv {
			m.closeLocked(c)
		}
	}
	m.consumers = make(map[string]map[string]*Consumer)
	return nil
}

// Attach subscribes a new consumer to the session's event stream.
// Events past the watermark are queued from history before the consumer
// goes live, under the session lock, so no concurrently appended event
// can fall between backfill and live delivery. If the watermark
// predates the retained history, the backfill starts with a gap marker.
func (m *Mux) Attach(sess *conversation.Session, watermark int64) *Consumer {
	c := &Consumer{
		id:     uuid.NewString(),
		convID: sess.ID,
		sess:   sess,
		events: make(chan domain.Event, m.queueSize),
	}

	sess.Backfill(watermark, func(events []domain.Event, gapped bool, gapSeq int64) {
		m.mu.Lock()
		defer m.mu.Unlock()

		if gapped {
			m.enqueueLocked(c, gapEvent(c.convID, gapSeq))
		}
		for _, evt := range events {
			m.enqueueLocked(c, evt)
		}

		if m.consumers[c.convID] == nil {
			m.consumers[c.convID] = make(map[string]*Consumer)
		}
		m.consumers[c.convID][c.id] = c
	})

	sess.AddConsumer()
	m.log.Debug().Str("conversation", c.convID).Str("consumer", c.id).Int64("watermark", watermark).Msg("consumer attached")
	return c
}

// Detach unsubscribes the consumer and closes its event channel.
// Idempotent.
func (m *Mux) Detach(c *Consumer) {
	m.mu.Lock()
	conv, ok := m.consumers[c.convID]
	if !ok || conv[c.id] == nil {
		m.mu.Unlock()
		return
	}
	delete(conv, c.id)
	if len(conv) == 0 {
		delete(m.consumers, c.convID)
	}
	m.closeLocked(c)
	m.mu.Unlock()

	// Outside the mux lock: the session lock is always taken before the
	// mux lock on the publish path.
	c.sess.RemoveConsumer()
	m.log.Debug().Str("conversation", c.convID).Str("consumer", c.id).Msg("consumer detached")
}

// Publish routes an event to every consumer of its conversation. A slow
// consumer never blocks the publisher: when a queue is full the event
// is dropped and the consumer owes a gap marker.
func (m *Mux) Publish(_ context.Context, evt domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.consumers[evt.ConversationID] {
		m.enqueueLocked(c, evt)
	}
	return nil
}

// ConsumerCount returns the number of consumers attached to a
// conversation.
func (m *Mux) ConsumerCount(convID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.consumers[convID])
}

// enqueueLocked delivers one event to a consumer's queue. When the
// consumer has fallen behind, the owed gap marker must go out before
// any newer event, and the marker itself needs a slot left over for
// the event, so delivery stays dropped until two slots open up.
func (m *Mux) enqueueLocked(c *Consumer, evt domain.Event) {
	if c.closed {
		return
	}

	if c.gapSeq > 0 {
		if len(c.events) > cap(c.events)-2 {
			c.gapSeq = evt.Seq
			return
		}
		c.events <- gapEvent(c.convID, c.gapSeq)
		c.gapSeq = 0
	}

	select {
	case c.events <- evt:
	default:
		c.gapSeq = evt.Seq
		m.log.Warn().Str("conversation", c.convID).Str("consumer", c.id).Int64("seq", evt.Seq).Msg("consumer fell behind, dropping")
	}
}

func (m *Mux) closeLocked(c *Consumer) {
	if !c.closed {
		c.closed = true
		close(c.events)
	}
}

// gapEvent builds the marker that tells a consumer events up to and
// including seq were not delivered.
func gapEvent(convID string, seq int64) domain.Event {
	return domain.Event{
		Kind:           domain.KindGap,
		ConversationID: convID,
		Seq:            seq,
		Timestamp:      time.Now(),
	}
}
