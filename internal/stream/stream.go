package stream

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/angelmondragon/schemabridge/internal/envelope"
	"github.com/angelmondragon/schemabridge/pkg/errors"
	"github.com/angelmondragon/schemabridge/pkg/logger"
	"github.com/segmentio/kafka-go"
)

type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaStream polls the buffer topic with a per-call timeout and commits
// explicit offsets. It is safe for concurrent Consume calls.
type KafkaStream struct {
	reader fetcher
	logg   *logger.Logger
}

func NewKafkaStream(reader fetcher, logg *logger.Logger) (*KafkaStream, error) {
	if reader == nil {
		return nil, stdErrors.New("kafka reader is required")
	}
	if logg == nil {
		return nil, stdErrors.New("logger is required")
	}
	return &KafkaStream{reader: reader, logg: logg}, nil
}

// Consume waits up to timeout for the next message. It returns (nil, nil)
// when the timeout elapses while the parent context is still live.
func (s *KafkaStream) Consume(ctx context.Context, timeout time.Duration) (*envelope.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		return nil, nil
	}
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	km, err := s.reader.FetchMessage(pollCtx)
	if err != nil {
		if ctx.Err() == nil && stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(errors.CodeDependency, err, "fetch buffer message")
	}

	msg := envelope.NewMessage(km.Value, km.Time, envelope.Offset{
		Topic:     km.Topic,
		Partition: km.Partition,
		Offset:    km.Offset,
	})
	msg.Key = km.Key
	return msg, nil
}

// Commit acknowledges the given offsets. Offsets are committed per partition
// at their highest value.
func (s *KafkaStream) Commit(ctx context.Context, offsets []envelope.Offset) error {
	if len(offsets) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(offsets))
	for _, o := range offsets {
		msgs = append(msgs, kafka.Message{Topic: o.Topic, Partition: o.Partition, Offset: o.Offset})
	}
	if err := s.reader.CommitMessages(ctx, msgs...); err != nil {
		return errors.Wrap(errors.CodeCommitFailed, err, fmt.Sprintf("commit %d offsets", len(offsets)))
	}
	return nil
}

func (s *KafkaStream) Close() error {
	if s == nil || s.reader == nil {
		return nil
	}
	return s.reader.Close()
}
