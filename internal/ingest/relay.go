package ingest

import (
	"context"
	stdErrors "errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/angelmondragon/schemabridge/internal/envelope"
	"github.com/angelmondragon/schemabridge/internal/syncstate"
	"github.com/angelmondragon/schemabridge/pkg/enums"
	"github.com/angelmondragon/schemabridge/pkg/logger"
	"github.com/segmentio/kafka-go"
)

const (
	defaultRetryBase = 200 * time.Millisecond
	maxBackoff       = 10 * time.Second
	jitterWindow     = 250 * time.Millisecond
)

type sourceReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type bufferWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type relayMetrics interface {
	IncRelayed(direction string)
}

type Params struct {
	Direction   enums.Direction
	SourceName  string
	BufferTopic string
	Reader      sourceReader
	Writer      bufferWriter
	State       *syncstate.State
	Logger      *logger.Logger
	Metrics     relayMetrics
	RetryBase   time.Duration
}

// Relay moves one direction's CDC stream into the shared buffer topic. Each
// message gets __source_name stamped when missing and is keyed by aggregate
// id; the source offset is committed only after the buffer write succeeds.
type Relay struct {
	direction  enums.Direction
	sourceName string
	topic      string
	reader     sourceReader
	writer     bufferWriter
	state      *syncstate.State
	logg       *logger.Logger
	metrics    relayMetrics
	retryBase  time.Duration
	jitter     *rand.Rand
}

func NewRelay(params Params) (*Relay, error) {
	if !params.Direction.IsValid() {
		return nil, fmt.Errorf("invalid relay direction %q", params.Direction)
	}
	if params.SourceName == "" {
		return nil, stdErrors.New("source name is required")
	}
	if params.BufferTopic == "" {
		return nil, stdErrors.New("buffer topic is required")
	}
	if params.Reader == nil {
		return nil, stdErrors.New("source reader is required")
	}
	if params.Writer == nil {
		return nil, stdErrors.New("buffer writer is required")
	}
	if params.State == nil {
		return nil, stdErrors.New("sync state is required")
	}
	if params.Logger == nil {
		return nil, stdErrors.New("logger is required")
	}
	retryBase := params.RetryBase
	if retryBase <= 0 {
		retryBase = defaultRetryBase
	}
	return &Relay{
		direction:  params.Direction,
		sourceName: params.SourceName,
		topic:      params.BufferTopic,
		reader:     params.Reader,
		writer:     params.Writer,
		state:      params.State,
		logg:       params.Logger,
		metrics:    params.Metrics,
		retryBase:  retryBase,
		jitter:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Run relays messages until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	ctx = r.logg.WithDirection(ctx, r.direction.String())
	r.logg.Info(ctx, "relay started")

	backoff := r.retryBase
	for {
		select {
		case <-ctx.Done():
			r.logg.Info(ctx, "relay context canceled")
			return ctx.Err()
		default:
		}

		msg, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logg.Error(ctx, "relay fetch failed", err)
			backoff = nextBackoff(backoff, r.retryBase)
			if err := r.sleep(ctx, backoff); err != nil {
				return err
			}
			continue
		}

		if err := r.relay(ctx, msg); err != nil {
			return err
		}
		backoff = r.retryBase
	}
}

// relay forwards one message, retrying the buffer write and the source
// commit until they succeed or ctx ends.
func (r *Relay) relay(ctx context.Context, msg kafka.Message) error {
	ctx = r.logg.WithPosition(ctx, msg.Topic, msg.Partition, msg.Offset)

	out, env := r.prepare(ctx, msg)
	if err := r.retry(ctx, "buffer write", func() error {
		return r.writer.WriteMessages(ctx, out)
	}); err != nil {
		return err
	}
	if err := r.retry(ctx, "source commit", func() error {
		return r.reader.CommitMessages(ctx, msg)
	}); err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.IncRelayed(r.direction.String())
	}

	if env != nil && env.IsLastSnapshot() && !r.state.SnapshotComplete(r.direction) {
		r.state.MarkSnapshotComplete(r.direction)
		r.logg.Info(ctx, "snapshot complete")
	}
	return nil
}

func (r *Relay) prepare(ctx context.Context, msg kafka.Message) (kafka.Message, *envelope.Envelope) {
	out := kafka.Message{Topic: r.topic, Key: msg.Key, Value: msg.Value, Headers: msg.Headers}

	stamped, err := envelope.StampSource(msg.Value, r.sourceName)
	if err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "forwarding unparsable envelope unchanged")
		return out, nil
	}
	out.Value = stamped

	env, err := envelope.Parse(stamped)
	if err != nil {
		return out, nil
	}
	if id := env.AggregateID.String(); id != "" {
		out.Key = []byte(id)
	}
	return out, env
}

func (r *Relay) retry(ctx context.Context, action string, fn func() error) error {
	backoff := r.retryBase
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logg.Error(ctx, fmt.Sprintf("relay %s failed", action), err)
		backoff = nextBackoff(backoff, r.retryBase)
		if err := r.sleep(ctx, backoff); err != nil {
			return err
		}
	}
}

func (r *Relay) sleep(ctx context.Context, d time.Duration) error {
	d += time.Duration(r.jitter.Int63n(int64(jitterWindow)))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
