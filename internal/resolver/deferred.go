package resolver

import (
	"sync"

	"github.com/angelmondragon/schemabridge/internal/envelope"
)

// DeferredQueue holds messages consumed while waiting for an unrelated
// dependency. Nothing pushed here is ever discarded: it is either claimed by a
// later wait or drained into the next cycle.
type DeferredQueue struct {
	mu    sync.Mutex
	items []*envelope.Message
}

func NewDeferredQueue() *DeferredQueue {
	return &DeferredQueue{}
}

func (q *DeferredQueue) Push(msg *envelope.Message) {
	if msg == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, msg)
}

// Take removes and returns the first message satisfying match.
func (q *DeferredQueue) Take(match func(*envelope.Message) bool) (*envelope.Message, bool) {
	q.mu.Lock()
	items := make([]*envelope.Message, len(q.items))
	copy(items, q.items)
	q.mu.Unlock()

	for _, msg := range items {
		if !match(msg) {
			continue
		}
		q.mu.Lock()
		for i, candidate := range q.items {
			if candidate == msg {
				q.items = append(q.items[:i], q.items[i+1:]...)
				q.mu.Unlock()
				return msg, true
			}
		}
		q.mu.Unlock()
	}
	return nil, false
}

// Drain empties the queue and returns its messages in arrival order.
func (q *DeferredQueue) Drain() []*envelope.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Offsets returns the transport positions of the held messages.
func (q *DeferredQueue) Offsets() []envelope.Offset {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]envelope.Offset, 0, len(q.items))
	for _, msg := range q.items {
		out = append(out, msg.Offset)
	}
	return out
}

func (q *DeferredQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
