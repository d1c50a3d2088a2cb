// Package history keeps a bounded, insertion-ordered record of recent
// pipeline events per conversation, used to backfill late-attaching
// consumers.
package history

import "github.com/soyeahso/relay/internal/domain"

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 256

// Buffer retains the last events of one conversation, oldest evicted
// first. Once an eviction has happened, a gap sentinel occupies one
// capacity slot and records the highest evicted sequence number, so a
// backfill can tell a consumer exactly where its watermark fell out of
// the window.
//
// Buffer is not safe for concurrent use; callers synchronize through
// the owning conversation session.
type Buffer struct {
	capacity int
	gapSeq   int64 // highest evicted seq; 0 means nothing evicted yet
	events   []domain.Event
}

// New creates a buffer retaining up to capacity entries.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{capacity: capacity}
}

// Append stores evt, evicting oldest entries as needed. Events must be
// appended in strictly increasing Seq order.
func (b *Buffer) Append(evt domain.Event) {
	b.events = append(b.events, evt)
	for b.size() > b.capacity {
		b.gapSeq = b.events[0].Seq
		b.events = b.events[1:]
	}
}

// size counts retained events plus the gap sentinel's slot.
func (b *Buffer) size() int {
	n := len(b.events)
	if b.gapSeq > 0 {
		n++
	}
	return n
}

// After returns all retained events with Seq greater than watermark, in
// order, and whether the watermark predates the retained window (the
// caller should deliver a gap marker before the events).
func (b *Buffer) After(watermark int64) ([]domain.Event, bool) {
	gapped := b.gapSeq > watermark

	i := 0
	for i < len(b.events) && b.events[i].Seq <= watermark {
		i++
	}
	if i == len(b.events) {
		return nil, gapped
	}
	out := make([]domain.Event, len(b.events)-i)
	copy(out, b.events[i:])
	return out, gapped
}

// GapSeq returns the highest evicted sequence number, or 0 if nothing
// has been evicted.
func (b *Buffer) GapSeq() int64 { return b.gapSeq }

// Len returns the number of retained events.
func (b *Buffer) Len() int { return len(b.events) }

// LatestSeq returns the newest retained sequence number, or the gap
// boundary when the buffer is empty.
func (b *Buffer) LatestSeq() int64 {
	if len(b.events) == 0 {
		return b.gapSeq
	}
	return b.events[len(b.events)-1].Seq
}
