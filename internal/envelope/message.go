package envelope

import (
	"fmt"
	"sync"
	"time"
)

// Offset identifies a transport position that must be committed once the
// message it belongs to has been handled.
type Offset struct {
	Topic     string
	Partition int
	Offset    int64
}

func (o Offset) String() string {
	return fmt.Sprintf("%s/%d@%d", o.Topic, o.Partition, o.Offset)
}

// Message is one CDC change record as consumed from the buffer topic. The
// payload is immutable; the parsed envelope is computed once on first use.
type Message struct {
	Key       []byte
	Payload   []byte
	Timestamp time.Time
	Offset    Offset

	once   sync.Once
	parsed *Envelope
	err    error
}

// NewMessage builds a message around a raw envelope payload.
func NewMessage(payload []byte, ts time.Time, offset Offset) *Message {
	return &Message{Payload: payload, Timestamp: ts, Offset: offset}
}

// Envelope parses the payload on first call and returns the cached result.
func (m *Message) Envelope() (*Envelope, error) {
	if m == nil {
		return nil, errNilMessage
	}
	m.once.Do(func() {
		m.parsed, m.err = Parse(m.Payload)
	})
	return m.parsed, m.err
}
