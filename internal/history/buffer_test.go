package history

import (
	"testing"

	"github.com/soyeahso/relay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fragment(seq int64) domain.Event {
	return domain.Event{Kind: domain.KindFragment, ConversationID: "c", Seq: seq}
}

func seqs(events []domain.Event) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.Seq
	}
	return out
}

func TestAfterWithinWindow(t *testing.T) {
	b := New(10)
	for i := int64(1); i <= 5; i++ {
		b.Append(fragment(i))
	}

	events, gapped := b.After(2)
	assert.False(t, gapped)
	assert.Equal(t, []int64{3, 4, 5}, seqs(events))
}

func TestAfterZeroWatermarkNoEviction(t *testing.T) {
	b := New(10)
	for i := int64(1); i <= 3; i++ {
		b.Append(fragment(i))
	}

	events, gapped := b.After(0)
	assert.False(t, gapped)
	assert.Equal(t, []int64{1, 2, 3}, seqs(events))
}

func TestEvictionLeavesGap(t *testing.T) {
	// Capacity 3, five events: the gap sentinel takes one slot, so only
	// events 4 and 5 remain retained and 1-3 are reported as evicted.
	b := New(3)
	for i := int64(1); i <= 5; i++ {
		b.Append(fragment(i))
	}

	events, gapped := b.After(0)
	assert.True(t, gapped)
	assert.Equal(t, []int64{4, 5}, seqs(events))
	assert.Equal(t, int64(3), b.GapSeq())
}

func TestWatermarkAtGapBoundaryIsNotGapped(t *testing.T) {
	b := New(3)
	for i := int64(1); i <= 5; i++ {
		b.Append(fragment(i))
	}

	// Watermark 3: everything after it is still retained.
	events, gapped := b.After(3)
	assert.False(t, gapped)
	assert.Equal(t, []int64{4, 5}, seqs(events))
}

func TestAfterLatestReturnsNothing(t *testing.T) {
	b := New(3)
	for i := int64(1); i <= 5; i++ {
		b.Append(fragment(i))
	}

	events, gapped := b.After(5)
	assert.False(t, gapped)
	assert.Empty(t, events)
}

func TestRetainedEventsStayContiguous(t *testing.T) {
	b := New(4)
	for i := int64(1); i <= 20; i++ {
		b.Append(fragment(i))
	}

	events, gapped := b.After(0)
	require.True(t, gapped)
	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].Seq+1, events[i].Seq)
	}
	assert.Equal(t, events[0].Seq-1, b.GapSeq())
	assert.Equal(t, int64(20), b.LatestSeq())
}

func TestDefaultCapacity(t *testing.T) {
	b := New(0)
	assert.Equal(t, DefaultCapacity, b.capacity)
}
