package stream

import (
	"context"
	"testing"

	"github.com/soyeahso/relay/internal/conversation"
	"github.com/soyeahso/relay/internal/domain"
	"github.com/soyeahso/relay/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

func testSession(t *testing.T, capacity int) *conversation.Session {
	t.Helper()
	return conversation.NewManager(capacity, testLogger()).GetOrCreate("asst_1", "alice")
}

// drain reads everything currently queued without blocking.
func drain(c *Consumer) []domain.Event {
	var events []domain.Event
	for {
		select {
		case evt, ok := <-c.Events():
			if !ok {
				return events
			}
			events = append(events, evt)
		default:
			return events
		}
	}
}

func appendAndPublish(sess *conversation.Session, m *Mux, evt domain.Event) domain.Event {
	return sess.Append(evt, func(e domain.Event) {
		m.Publish(context.Background(), e)
	})
}

func TestAttachBackfillsHistory(t *testing.T) {
	m := NewMux(16, testLogger())
	sess := testSession(t, 100)

	appendAndPublish(sess, m, domain.Event{Kind: domain.KindFragment, Text: "He"})
	appendAndPublish(sess, m, domain.Event{Kind: domain.KindFragment, Text: "llo!"})

	c := m.Attach(sess, 0)
	defer m.Detach(c)

	events := drain(c)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].Seq)
	assert.Equal(t, int64(2), events[1].Seq)
	assert.Equal(t, 1, sess.Consumers())
}

func TestAttachWithWatermarkSkipsSeen(t *testing.T) {
	m := NewMux(16, testLogger())
	sess := testSession(t, 100)

	for i := 0; i < 5; i++ {
		appendAndPublish(sess, m, domain.Event{Kind: domain.KindFragment})
	}

	c := m.Attach(sess, 3)
	defer m.Detach(c)

	events := drain(c)
	require.Len(t, events, 2)
	assert.Equal(t, int64(4), events[0].Seq)
	assert.Equal(t, int64(5), events[1].Seq)
}

func TestAttachBeyondRetainedHistoryGetsGapMarker(t *testing.T) {
	m := NewMux(16, testLogger())
	sess := testSession(t, 3)

	for i := 0; i < 5; i++ {
		appendAndPublish(sess, m, domain.Event{Kind: domain.KindFragment})
	}

	c := m.Attach(sess, 0)
	defer m.Detach(c)

	events := drain(c)
	require.Len(t, events, 3)
	assert.Equal(t, domain.KindGap, events[0].Kind)
	assert.Equal(t, int64(3), events[0].Seq)
	assert.Equal(t, int64(4), events[1].Seq)
	assert.Equal(t, int64(5), events[2].Seq)
}

func TestPublishReachesAttachedConsumers(t *testing.T) {
	m := NewMux(16, testLogger())
	sess := testSession(t, 100)

	c1 := m.Attach(sess, 0)
	c2 := m.Attach(sess, 0)
	defer m.Detach(c1)
	defer m.Detach(c2)
	assert.Equal(t, 2, m.ConsumerCount(sess.ID))

	evt := appendAndPublish(sess, m, domain.Event{Kind: domain.KindFinalized, Text: "Hello!"})

	for _, c := range []*Consumer{c1, c2} {
		events := drain(c)
		require.Len(t, events, 1)
		assert.Equal(t, evt, events[0])
	}
}

func TestPublishIgnoresOtherConversations(t *testing.T) {
	m := NewMux(16, testLogger())
	mgr := conversation.NewManager(100, testLogger())
	alice := mgr.GetOrCreate("asst_1", "alice")
	bob := mgr.GetOrCreate("asst_1", "bob")

	c := m.Attach(alice, 0)
	defer m.Detach(c)

	appendAndPublish(bob, m, domain.Event{Kind: domain.KindFragment, Text: "psst"})
	assert.Empty(t, drain(c))
}

func TestSlowConsumerGetsGapNotSilence(t *testing.T) {
	m := NewMux(4, testLogger())
	sess := testSession(t, 100)

	c := m.Attach(sess, 0)
	defer m.Detach(c)

	// Nobody reads: the queue fills at 4 and events 5..10 are dropped.
	for i := 0; i < 10; i++ {
		appendAndPublish(sess, m, domain.Event{Kind: domain.KindFragment})
	}

	events := drain(c)
	require.Len(t, events, 4)
	for i, evt := range events {
		assert.Equal(t, int64(i+1), evt.Seq)
		assert.Equal(t, domain.KindFragment, evt.Kind)
	}

	// Once there is room, the gap marker precedes any newer event.
	appendAndPublish(sess, m, domain.Event{Kind: domain.KindFinalized, Text: "done"})

	events = drain(c)
	require.Len(t, events, 2)
	assert.Equal(t, domain.KindGap, events[0].Kind)
	assert.Equal(t, int64(10), events[0].Seq)
	assert.Equal(t, int64(11), events[1].Seq)
	assert.Equal(t, domain.KindFinalized, events[1].Kind)
}

func TestDetachClosesChannel(t *testing.T) {
	m := NewMux(16, testLogger())
	sess := testSession(t, 100)

	c := m.Attach(sess, 0)
	m.Detach(c)
	m.Detach(c) // idempotent

	_, ok := <-c.Events()
	assert.False(t, ok)
	assert.Equal(t, 0, m.ConsumerCount(sess.ID))
	assert.Equal(t, 0, sess.Consumers())

	// Publishing after detach must not panic on the closed channel.
	appendAndPublish(sess, m, domain.Event{Kind: domain.KindFragment})
}

func TestStopDetachesAll(t *testing.T) {
	m := NewMux(16, testLogger())
	sess := testSession(t, 100)

	c := m.Attach(sess, 0)
	require.NoError(t, m.Stop(context.Background()))

	_, ok := <-c.Events()
	assert.False(t, ok)
	assert.Equal(t, 0, m.ConsumerCount(sess.ID))
}
