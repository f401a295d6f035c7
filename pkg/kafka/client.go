package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/angelmondragon/schemabridge/pkg/config"
	"github.com/angelmondragon/schemabridge/pkg/logger"
	"github.com/segmentio/kafka-go"
	"go.uber.org/multierr"
)

const defaultTopicReplication = 1

// NewReader builds a consumer-group reader for topic. Offsets are committed
// explicitly by the caller (CommitInterval 0).
func NewReader(cfg config.KafkaConfig, groupID, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:           cfg.Brokers,
		GroupID:           groupID,
		Topic:             topic,
		MinBytes:          cfg.MinBytes,
		MaxBytes:          cfg.MaxBytes,
		MaxWait:           cfg.MaxWait,
		QueueCapacity:     cfg.QueueCapacity,
		SessionTimeout:    cfg.SessionTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		CommitInterval:    0,
		ReadLagInterval:   -1,
		Dialer:            &kafka.Dialer{Timeout: cfg.DialTimeout},
	})
}

// NewWriter builds a synchronous writer without a fixed topic; each message
// names its destination. The Hash balancer keeps per-key ordering.
func NewWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           cfg.WriteTimeout,
		BatchSize:              1,
		Async:                  false,
		AllowAutoTopicCreation: false,
	}
}

// Ping dials the first reachable broker.
func Ping(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	var errs error
	for _, broker := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("dial %s: %w", broker, err))
			continue
		}
		return conn.Close()
	}
	return errs
}

// EnsureTopics creates the named topics through the cluster controller,
// ignoring topics that already exist. Failures are logged per topic.
func EnsureTopics(ctx context.Context, brokers []string, partitions int, topics []string, logg *logger.Logger) error {
	if len(brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	if partitions <= 0 {
		partitions = 1
	}
	var errs error
	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		if err := ensureTopic(ctx, brokers[0], topic, partitions); err != nil {
			errs = multierr.Append(errs, err)
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "topic", topic), fmt.Sprintf("ensure topic failed: %v", err))
			}
			continue
		}
		if logg != nil {
			logg.Info(logg.WithFields(ctx, map[string]any{"topic": topic, "partitions": partitions}), "topic ensured")
		}
	}
	return errs
}

func ensureTopic(ctx context.Context, broker, topic string, partitions int) error {
	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}

	ctrlAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	ctrlConn, err := kafka.DialContext(ctx, "tcp", ctrlAddr)
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer ctrlConn.Close()

	err = ctrlConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: defaultTopicReplication,
	})
	if err != nil && !isTopicExists(err) {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	return nil
}

func isTopicExists(err error) bool {
	if errors.Is(err, kafka.TopicAlreadyExists) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "exists")
}
