package sink

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/schemabridge/internal/envelope"
	"github.com/angelmondragon/schemabridge/pkg/errors"
)

const defaultPublishTimeout = 15 * time.Second

type pubSubClient interface {
	Publisher(name string) *gcppubsub.Publisher
	PublishTimeout() time.Duration
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	ResumePublish(orderingKey string)
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// PubSubSink publishes events with the aggregate id as ordering key so one
// aggregate's changes stay ordered downstream.
type PubSubSink struct {
	factory publisherFactory
	timeout time.Duration
}

func NewPubSubSink(client pubSubClient) (*PubSubSink, error) {
	if client == nil {
		return nil, stdErrors.New("pubsub client is required")
	}
	timeout := client.PublishTimeout()
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &PubSubSink{
		factory: func(topic string) publisher {
			p := client.Publisher(topic)
			if p == nil {
				return nil
			}
			return newGCPPublisher(p)
		},
		timeout: timeout,
	}, nil
}

func (s *PubSubSink) Produce(ctx context.Context, destination, key string, value []byte) error {
	pub := s.factory(destination)
	if pub == nil {
		return errors.New(errors.CodeProduceFailed, fmt.Sprintf("publisher not configured for topic %s", destination))
	}

	msg := &gcppubsub.Message{
		Data:        value,
		OrderingKey: key,
		Attributes:  attributesFor(value),
	}

	publishCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	result := pub.Publish(publishCtx, msg)
	if result == nil {
		return errors.New(errors.CodeProduceFailed, fmt.Sprintf("publisher returned nil for topic %s", destination))
	}
	if _, err := result.Get(publishCtx); err != nil {
		if key != "" {
			pub.ResumePublish(key)
		}
		return errors.Wrap(errors.CodeProduceFailed, err, fmt.Sprintf("publish to %s", destination))
	}
	return nil
}

func attributesFor(value []byte) map[string]string {
	attrs := map[string]string{}
	env, err := envelope.Parse(value)
	if err != nil {
		return attrs
	}
	set := func(name string, v envelope.Text) {
		if !v.IsEmpty() {
			attrs[name] = v.String()
		}
	}
	set("event_id", env.EventID)
	set("event_type", env.EventType)
	set("aggregate_type", env.AggregateType)
	set("aggregate_id", env.AggregateID)
	set("source_name", env.SourceName)
	if !env.CreatedAt.IsZero() {
		attrs["created_at"] = env.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return attrs
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{Publisher: p}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", stdErrors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
