package resolver

import (
	"sync"

	"github.com/angelmondragon/schemabridge/internal/envelope"
)

// Batch is the pending set of events for a flush cycle together with every
// transport offset consumed on its behalf. Concurrent resolutions append to
// it, so all access is guarded.
type Batch struct {
	mu      sync.Mutex
	events  []*envelope.Message
	offsets []envelope.Offset
	seen    map[envelope.Offset]struct{}
}

func NewBatch(events ...*envelope.Message) *Batch {
	b := &Batch{seen: map[envelope.Offset]struct{}{}}
	for _, msg := range events {
		b.Add(msg)
	}
	return b
}

// Add appends msg and records its offset.
func (b *Batch) Add(msg *envelope.Message) {
	if msg == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, msg)
	b.recordLocked(msg.Offset)
}

// Prepend places msgs ahead of the current events, recording their offsets.
func (b *Batch) Prepend(msgs ...*envelope.Message) {
	if len(msgs) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := make([]*envelope.Message, 0, len(msgs)+len(b.events))
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		merged = append(merged, msg)
		b.recordLocked(msg.Offset)
	}
	b.events = append(merged, b.events...)
}

// RecordOffset tracks an offset whose message is not part of the batch, such
// as a quarantined malformed envelope.
func (b *Batch) RecordOffset(offset envelope.Offset) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recordLocked(offset)
}

func (b *Batch) recordLocked(offset envelope.Offset) {
	if b.seen == nil {
		b.seen = map[envelope.Offset]struct{}{}
	}
	if _, ok := b.seen[offset]; ok {
		return
	}
	b.seen[offset] = struct{}{}
	b.offsets = append(b.offsets, offset)
}

// Snapshot returns a copy of the events safe to iterate while others append.
func (b *Batch) Snapshot() []*envelope.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*envelope.Message, len(b.events))
	copy(out, b.events)
	return out
}

// Find reports whether any event satisfies match.
func (b *Batch) Find(match func(*envelope.Message) bool) bool {
	for _, msg := range b.Snapshot() {
		if match(msg) {
			return true
		}
	}
	return false
}

// Remove drops msg from the events. Its offset stays recorded.
func (b *Batch) Remove(msg *envelope.Message) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, candidate := range b.events {
		if candidate == msg {
			b.events = append(b.events[:i], b.events[i+1:]...)
			return true
		}
	}
	return false
}

// Replace swaps the event list, keeping recorded offsets.
func (b *Batch) Replace(events []*envelope.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append([]*envelope.Message(nil), events...)
}

func (b *Batch) Offsets() []envelope.Offset {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]envelope.Offset, len(b.offsets))
	copy(out, b.offsets)
	return out
}

// ReleaseOffsets forgets the given offsets once they have been committed.
func (b *Batch) ReleaseOffsets(committed []envelope.Offset) {
	b.mu.Lock()
	defer b.mu.Unlock()
	drop := make(map[envelope.Offset]struct{}, len(committed))
	for _, o := range committed {
		drop[o] = struct{}{}
	}
	kept := b.offsets[:0]
	for _, o := range b.offsets {
		if _, ok := drop[o]; ok {
			delete(b.seen, o)
			continue
		}
		kept = append(kept, o)
	}
	b.offsets = kept
}

// ClearEvents empties the event list, keeping recorded offsets.
func (b *Batch) ClearEvents() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
