package main

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/schemabridge/api/controllers"
	"github.com/angelmondragon/schemabridge/api/routes"
	"github.com/angelmondragon/schemabridge/internal/chains"
	"github.com/angelmondragon/schemabridge/internal/deadletter"
	"github.com/angelmondragon/schemabridge/internal/envelope"
	"github.com/angelmondragon/schemabridge/internal/flush"
	"github.com/angelmondragon/schemabridge/internal/ingest"
	"github.com/angelmondragon/schemabridge/internal/mapping"
	"github.com/angelmondragon/schemabridge/internal/mappingcache"
	"github.com/angelmondragon/schemabridge/internal/resolver"
	"github.com/angelmondragon/schemabridge/internal/sink"
	"github.com/angelmondragon/schemabridge/internal/sorter"
	"github.com/angelmondragon/schemabridge/internal/stream"
	"github.com/angelmondragon/schemabridge/internal/syncstate"
	"github.com/angelmondragon/schemabridge/pkg/config"
	"github.com/angelmondragon/schemabridge/pkg/db"
	"github.com/angelmondragon/schemabridge/pkg/db/models"
	"github.com/angelmondragon/schemabridge/pkg/enums"
	"github.com/angelmondragon/schemabridge/pkg/kafka"
	"github.com/angelmondragon/schemabridge/pkg/logger"
	"github.com/angelmondragon/schemabridge/pkg/metrics"
	"github.com/angelmondragon/schemabridge/pkg/pubsub"
	"github.com/angelmondragon/schemabridge/pkg/redis"
)

const (
	relayGroupSuffix  = "-relay"
	readHeaderTimeout = 5 * time.Second
)

// buildService opens every dependency and assembles the sync pipeline. On
// failure everything opened so far is closed again.
func buildService(ctx context.Context, cfg *config.Config, logg *logger.Logger) (svc *Service, err error) {
	var closers []namedCloser
	defer func() {
		if err != nil {
			if closeErr := closeAll(closers); closeErr != nil {
				logg.Error(ctx, "error releasing partially built service", closeErr)
			}
		}
	}()

	set, err := chains.Parse(cfg.Sync.Chains)
	if err != nil {
		return nil, fmt.Errorf("parse dependency chains: %w", err)
	}
	unresolvedPolicy, err := enums.ParseUnresolvedPolicy(cfg.Sync.UnresolvedPolicy)
	if err != nil {
		return nil, err
	}
	cyclePolicy, err := enums.ParseCyclePolicy(cfg.Sync.CyclePolicy)
	if err != nil {
		return nil, err
	}
	names := enums.SourceNames{A: cfg.Sync.SourceAName, B: cfg.Sync.SourceBName}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}
	closers = append(closers, namedCloser{name: "database", closer: dbClient})
	checks := []controllers.ReadinessCheck{{Name: "database", Ping: dbClient.Ping}}

	if cfg.DB.AutoMigrate {
		if err := migrateSchema(ctx, dbClient, cfg.Mapping.Tables); err != nil {
			return nil, err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	syncMetrics := metrics.NewSyncMetrics(registry)

	var cache mappingcache.Cache
	switch cfg.Sync.CacheBackend {
	case config.CacheBackendRedis:
		redisClient, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap redis: %w", err)
		}
		closers = append(closers, namedCloser{name: "redis", closer: redisClient})
		checks = append(checks, controllers.ReadinessCheck{Name: "redis", Ping: redisClient.Ping})
		cache = mappingcache.NewRedisCache(redisClient, cfg.Sync.CacheTTL())
	default:
		cache = mappingcache.NewMemoryCache(cfg.Sync.CacheTTL())
	}

	lookup, err := mapping.NewRepository(dbClient.DB(), cfg.Mapping.Tables)
	if err != nil {
		return nil, fmt.Errorf("mapping repository: %w", err)
	}

	brokers := cfg.Kafka.Brokers
	checks = append(checks, controllers.ReadinessCheck{Name: "kafka", Ping: func(ctx context.Context) error {
		return kafka.Ping(ctx, brokers)
	}})

	topics := []string{cfg.Topics.Buffer}
	if cfg.Sink.Kind == config.SinkKindKafka {
		topics = append(topics, sink.Destinations(cfg.Topics.DestinationPrefix)...)
	}
	if cfg.Kafka.EnsureTopics {
		if err := kafka.EnsureTopics(ctx, brokers, cfg.Kafka.TopicPartitions, topics, logg); err != nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "kafka topics not fully ensured")
		}
	}

	writer := kafka.NewWriter(cfg.Kafka)
	closers = append(closers, namedCloser{name: "kafka writer", closer: writer})

	var producer sink.Producer
	switch cfg.Sink.Kind {
	case config.SinkKindPubSub:
		psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, sink.Destinations(cfg.Topics.DestinationPrefix), logg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap pubsub: %w", err)
		}
		closers = append(closers, namedCloser{name: "pubsub", closer: psClient})
		checks = append(checks, controllers.ReadinessCheck{Name: "pubsub", Ping: psClient.Ping})
		if producer, err = sink.NewPubSubSink(psClient); err != nil {
			return nil, err
		}
	default:
		if producer, err = sink.NewKafkaSink(writer); err != nil {
			return nil, err
		}
	}

	bufferStream, err := stream.NewKafkaStream(kafka.NewReader(cfg.Kafka, cfg.Kafka.ConsumerGroup, cfg.Topics.Buffer), logg)
	if err != nil {
		return nil, err
	}
	closers = append(closers, namedCloser{name: "buffer reader", closer: bufferStream})

	extractor := envelope.NewExtractor(logg)
	res, err := resolver.New(resolver.Params{
		Config: resolver.Config{
			MaxWait:     cfg.Sync.DependencyMaxWait(),
			PollTimeout: cfg.Sync.AdditionalConsumeTimeout(),
			RetryDelay:  cfg.Sync.RetryDelay(),
			SourceNames: names,
		},
		Logger:    logg,
		Extractor: extractor,
		Cache:     cache,
		Lookup:    lookup,
		Stream:    bufferStream,
		Metrics:   syncMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}

	state := syncstate.New()
	deadLetters := deadletter.NewRepository(dbClient.DB())

	orchestrator, err := flush.New(flush.Params{
		Config: flush.Config{
			BatchWindow:       cfg.Sync.BatchWindow(),
			PollTimeout:       cfg.Sync.BatchPollTimeout(),
			MaxConcurrent:     cfg.Sync.MaxConcurrentResolutions,
			UnresolvedPolicy:  unresolvedPolicy,
			CyclePolicy:       cyclePolicy,
			WaitForSnapshot:   cfg.Sync.WaitForSnapshot,
			DestinationPrefix: cfg.Topics.DestinationPrefix,
			SourceNames:       names,
			Chains:            set,
			RetryBase:         cfg.Sync.FailedCycleRetryBase(),
			MaxBackoff:        cfg.Sync.FailedCycleMaxBackoff(),
		},
		Logger:      logg,
		Extractor:   extractor,
		Stream:      bufferStream,
		Committer:   bufferStream,
		Resolver:    res,
		Sorter:      sorter.New(extractor, logg),
		Producer:    producer,
		DeadLetters: deadLetters,
		State:       state,
		Metrics:     syncMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("flush orchestrator: %w", err)
	}

	sources := []struct {
		direction enums.Direction
		name      string
		topic     string
	}{
		{direction: enums.DirectionAToB, name: names.A, topic: cfg.Topics.SourceA},
		{direction: enums.DirectionBToA, name: names.B, topic: cfg.Topics.SourceB},
	}
	relays := make([]runner, 0, len(sources))
	for _, src := range sources {
		reader := kafka.NewReader(cfg.Kafka, cfg.Kafka.ConsumerGroup+relayGroupSuffix, src.topic)
		closers = append(closers, namedCloser{name: "source reader " + src.topic, closer: reader})
		relay, err := ingest.NewRelay(ingest.Params{
			Direction:   src.direction,
			SourceName:  src.name,
			BufferTopic: cfg.Topics.Buffer,
			Reader:      reader,
			Writer:      writer,
			State:       state,
			Logger:      logg,
			Metrics:     syncMetrics,
			RetryBase:   cfg.Sync.FailedCycleRetryBase(),
		})
		if err != nil {
			return nil, fmt.Errorf("relay %s: %w", src.direction, err)
		}
		relays = append(relays, relay)
	}

	server := &http.Server{
		Addr: ":" + cfg.Ops.Port,
		Handler: routes.NewRouter(routes.Params{
			Config:      cfg,
			Logger:      logg,
			State:       state,
			DeadLetters: deadLetters,
			Gatherer:    registry,
			Checks:      checks,
		}),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return NewService(ServiceParams{
		Logger:       logg,
		Checks:       checks,
		Relays:       relays,
		Orchestrator: orchestrator,
		Server:       server,
		Closers:      closers,
	})
}

type schemaMigrator interface {
	AutoMigrate(ctx context.Context, models ...any) error
	MigrateTable(ctx context.Context, table string, model any) error
}

// migrateSchema creates the dead-letter table and one mapping table per
// configured dependency type.
func migrateSchema(ctx context.Context, m schemaMigrator, tables map[string]string) error {
	if err := m.AutoMigrate(ctx, &models.SyncDeadLetter{}); err != nil {
		return err
	}
	names := make([]string, 0, len(tables))
	for _, table := range tables {
		if table != "" {
			names = append(names, table)
		}
	}
	sort.Strings(names)
	for _, table := range names {
		if err := m.MigrateTable(ctx, table, &models.IDMapping{}); err != nil {
			return err
		}
	}
	return nil
}
