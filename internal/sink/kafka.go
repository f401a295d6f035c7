package sink

import (
	"context"
	stdErrors "errors"
	"fmt"

	"github.com/angelmondragon/schemabridge/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes each event synchronously to the destination topic.
type KafkaSink struct {
	writer messageWriter
}

func NewKafkaSink(writer messageWriter) (*KafkaSink, error) {
	if writer == nil {
		return nil, stdErrors.New("kafka writer is required")
	}
	return &KafkaSink{writer: writer}, nil
}

func (s *KafkaSink) Produce(ctx context.Context, destination, key string, value []byte) error {
	if destination == "" {
		return errors.New(errors.CodeValidation, "destination is required")
	}
	msg := kafka.Message{Topic: destination, Value: value}
	if key != "" {
		msg.Key = []byte(key)
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(errors.CodeProduceFailed, err, fmt.Sprintf("write to %s", destination))
	}
	return nil
}

func (s *KafkaSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
