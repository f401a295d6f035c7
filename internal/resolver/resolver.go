package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/schemabridge/internal/chains"
	"github.com/angelmondragon/schemabridge/internal/envelope"
	"github.com/angelmondragon/schemabridge/internal/mappingcache"
	"github.com/angelmondragon/schemabridge/pkg/enums"
	"github.com/angelmondragon/schemabridge/pkg/logger"
)

const addressIDField = "AddressId"

// Outcome describes how a dependency check ended.
type Outcome string

const (
	OutcomeNotDependent Outcome = "not_dependent"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeBatch        Outcome = "batch"
	OutcomeCache        Outcome = "cache"
	OutcomeLookup       Outcome = "lookup"
	OutcomeDeferred     Outcome = "deferred"
	OutcomeStream       Outcome = "stream"
	OutcomeTimeout      Outcome = "timeout"
)

// Resolved reports whether the dependency was confirmed.
func (o Outcome) Resolved() bool {
	switch o {
	case OutcomeBatch, OutcomeCache, OutcomeLookup, OutcomeDeferred, OutcomeStream:
		return true
	}
	return false
}

// MappingLookup asks the opposite schema whether a mapping already exists.
type MappingLookup interface {
	MappingExists(ctx context.Context, dependencyType, aggregateID string, direction enums.Direction) (bool, error)
}

// Stream polls the live buffer topic. It returns (nil, nil) when timeout
// elapses without a message.
type Stream interface {
	Consume(ctx context.Context, timeout time.Duration) (*envelope.Message, error)
}

type outcomeRecorder interface {
	IncDependencyOutcome(outcome string)
}

type Config struct {
	// MaxWait bounds one active wait, measured from its start.
	MaxWait time.Duration
	// PollTimeout bounds each stream poll inside a wait.
	PollTimeout time.Duration
	// RetryDelay separates wait iterations.
	RetryDelay  time.Duration
	SourceNames enums.SourceNames
}

type Params struct {
	Config    Config
	Logger    *logger.Logger
	Extractor *envelope.Extractor
	Cache     mappingcache.Cache
	Lookup    MappingLookup
	Stream    Stream
	Metrics   outcomeRecorder
}

type Resolver struct {
	cfg     Config
	logg    *logger.Logger
	x       *envelope.Extractor
	cache   mappingcache.Cache
	lookup  MappingLookup
	stream  Stream
	metrics outcomeRecorder
}

func New(params Params) (*Resolver, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Cache == nil {
		return nil, errors.New("mapping cache is required")
	}
	if params.Lookup == nil {
		return nil, errors.New("mapping lookup is required")
	}
	if params.Stream == nil {
		return nil, errors.New("stream is required")
	}
	if params.Config.MaxWait <= 0 {
		return nil, errors.New("max wait must be positive")
	}
	if params.Config.PollTimeout <= 0 {
		return nil, errors.New("poll timeout must be positive")
	}
	x := params.Extractor
	if x == nil {
		x = envelope.NewExtractor(params.Logger)
	}
	return &Resolver{
		cfg:     params.Config,
		logg:    params.Logger,
		x:       x,
		cache:   params.Cache,
		lookup:  params.Lookup,
		stream:  params.Stream,
		metrics: params.Metrics,
	}, nil
}

// EnsureDependency confirms that the dependency msg declares within chain has
// a cross-schema mapping. Confirmations are memoized in the cache; failures
// never are. A returned error means the context ended mid-check.
func (r *Resolver) EnsureDependency(ctx context.Context, msg *envelope.Message, chain chains.Chain, batch *Batch, deferred *DeferredQueue) (Outcome, error) {
	eventType, err := r.x.ExtractEventType(ctx, msg)
	if err != nil {
		return OutcomeSkipped, nil
	}
	dep, ok := chain.Dependency(eventType)
	if !ok {
		return OutcomeNotDependent, nil
	}

	aggregateID, _ := r.x.ExtractAggregateID(ctx, msg)
	ctx = r.logg.WithEventKey(ctx, eventType, aggregateID)
	ctx = r.logg.WithFields(ctx, map[string]any{"dependency_type": dep.Type, "dependency_field": dep.IDField})

	expectedID := r.x.ExtractDependencyID(ctx, msg, dep.IDField)
	if expectedID == "" {
		return r.record(r.skipMissing(ctx, msg, dep)), nil
	}
	if expectedID == envelope.CreateNewAddress {
		return r.record(OutcomeSkipped), nil
	}
	ctx = r.logg.WithField(ctx, "dependency_id", expectedID)

	key := mappingcache.Key(dep.Type, expectedID)
	if r.batchContains(ctx, batch, dep.Type, expectedID) {
		r.remember(ctx, key)
		return r.record(OutcomeBatch), nil
	}
	if r.cached(ctx, key) {
		r.remember(ctx, key)
		return r.record(OutcomeCache), nil
	}

	direction := r.x.Direction(msg, r.cfg.SourceNames)
	if direction.IsValid() && r.mappingExists(ctx, dep.Type, expectedID, direction) {
		r.remember(ctx, key)
		return r.record(OutcomeLookup), nil
	}

	outcome := r.waitForDependency(ctx, dep.Type, expectedID, direction, batch, deferred)
	if outcome.Resolved() {
		r.remember(ctx, key)
		return r.record(outcome), nil
	}
	if err := ctx.Err(); err != nil {
		return outcome, err
	}
	r.logg.Warn(ctx, fmt.Sprintf("dependency not confirmed within %s", r.cfg.MaxWait))
	return r.record(outcome), nil
}

// WaitForDependency actively waits for (dependencyType, expectedID) to show up
// in the batch, the deferred queue, the mapping store or the live stream.
func (r *Resolver) WaitForDependency(ctx context.Context, dependencyType, expectedID string, direction enums.Direction, batch *Batch, deferred *DeferredQueue) bool {
	return r.waitForDependency(ctx, dependencyType, expectedID, direction, batch, deferred).Resolved()
}

func (r *Resolver) waitForDependency(ctx context.Context, dependencyType, expectedID string, direction enums.Direction, batch *Batch, deferred *DeferredQueue) Outcome {
	deadline := time.Now().Add(r.cfg.MaxWait)
	matches := func(m *envelope.Message) bool {
		return r.x.Matches(ctx, m, dependencyType, expectedID)
	}

	for {
		if ctx.Err() != nil {
			return OutcomeTimeout
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return OutcomeTimeout
		}

		if batch.Find(matches) {
			return OutcomeBatch
		}
		if msg, ok := deferred.Take(matches); ok {
			batch.Add(msg)
			return OutcomeDeferred
		}
		if direction.IsValid() && r.mappingExists(ctx, dependencyType, expectedID, direction) {
			return OutcomeLookup
		}

		msg, err := r.stream.Consume(ctx, minDuration(r.cfg.PollTimeout, remaining))
		switch {
		case err != nil:
			if ctx.Err() == nil {
				r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "stream poll failed during dependency wait")
			}
		case msg != nil:
			if matches(msg) {
				batch.Add(msg)
				return OutcomeStream
			}
			deferred.Push(msg)
		}

		if !sleep(ctx, minDuration(r.cfg.RetryDelay, time.Until(deadline))) {
			return OutcomeTimeout
		}
	}
}

func (r *Resolver) skipMissing(ctx context.Context, msg *envelope.Message, dep chains.Link) Outcome {
	op, err := r.x.ExtractOperation(ctx, msg)
	if err == nil {
		if op == enums.OperationDeleted {
			return OutcomeSkipped
		}
		if op == enums.OperationUpdated && strings.EqualFold(dep.IDField, addressIDField) {
			return OutcomeSkipped
		}
	}
	r.logg.Warn(ctx, "dependency id missing from payload; event proceeds without resolution")
	return OutcomeSkipped
}

func (r *Resolver) batchContains(ctx context.Context, batch *Batch, dependencyType, expectedID string) bool {
	return batch.Find(func(m *envelope.Message) bool {
		return r.x.Matches(ctx, m, dependencyType, expectedID)
	})
}

func (r *Resolver) cached(ctx context.Context, key string) bool {
	ok, err := r.cache.TryGet(ctx, key)
	if err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "mapping cache read failed; treating as miss")
		return false
	}
	return ok
}

func (r *Resolver) remember(ctx context.Context, key string) {
	if err := r.cache.Set(ctx, key); err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "mapping cache write failed")
	}
}

func (r *Resolver) mappingExists(ctx context.Context, dependencyType, expectedID string, direction enums.Direction) bool {
	ok, err := r.lookup.MappingExists(ctx, dependencyType, expectedID, direction)
	if err != nil {
		if ctx.Err() == nil {
			r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "mapping lookup failed")
		}
		return false
	}
	return ok
}

func (r *Resolver) record(outcome Outcome) Outcome {
	if r.metrics != nil {
		r.metrics.IncDependencyOutcome(string(outcome))
	}
	return outcome
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
