package flush

import (
	"context"
	stdErrors "errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/angelmondragon/schemabridge/internal/chains"
	"github.com/angelmondragon/schemabridge/internal/deadletter"
	"github.com/angelmondragon/schemabridge/internal/envelope"
	"github.com/angelmondragon/schemabridge/internal/resolver"
	"github.com/angelmondragon/schemabridge/internal/sink"
	"github.com/angelmondragon/schemabridge/internal/syncstate"
	"github.com/angelmondragon/schemabridge/pkg/enums"
	"github.com/angelmondragon/schemabridge/pkg/errors"
	"github.com/angelmondragon/schemabridge/pkg/logger"
	"github.com/google/uuid"
)

const (
	defaultRetryBase  = 200 * time.Millisecond
	defaultMaxBackoff = 10 * time.Second
	jitterWindow      = 250 * time.Millisecond
	snapshotPoll      = 500 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

// Cycle outcomes, also used as metric labels.
const (
	OutcomeCommitted     = "committed"
	OutcomeEmpty         = "empty"
	OutcomeUnresolved    = "unresolved"
	OutcomeCycle         = "cycle"
	OutcomeProduceFailed = "produce_failed"
	OutcomeCommitFailed  = "commit_failed"
	OutcomeDeadLetter    = "deadletter_failed"
	OutcomeCanceled      = "canceled"
)

type dependencyResolver interface {
	EnsureDependency(ctx context.Context, msg *envelope.Message, chain chains.Chain, batch *resolver.Batch, deferred *resolver.DeferredQueue) (resolver.Outcome, error)
}

type batchSorter interface {
	Sort(ctx context.Context, batch []*envelope.Message, set chains.Set) ([]*envelope.Message, error)
}

type committer interface {
	Commit(ctx context.Context, offsets []envelope.Offset) error
}

type deadLetterStore interface {
	Insert(ctx context.Context, entry deadletter.Entry) error
}

type cycleMetrics interface {
	ObserveCycle(outcome string, duration time.Duration)
	IncProduced(direction, aggregateType string)
	IncDeadLetter(reason string)
	SetDeferredDepth(n int)
}

type Config struct {
	BatchWindow       time.Duration
	PollTimeout       time.Duration
	MaxConcurrent     int
	UnresolvedPolicy  enums.UnresolvedPolicy
	CyclePolicy       enums.CyclePolicy
	WaitForSnapshot   bool
	DestinationPrefix string
	SourceNames       enums.SourceNames
	Chains            chains.Set
	RetryBase         time.Duration
	MaxBackoff        time.Duration
}

type Params struct {
	Config      Config
	Logger      *logger.Logger
	Extractor   *envelope.Extractor
	Stream      resolver.Stream
	Committer   committer
	Resolver    dependencyResolver
	Sorter      batchSorter
	Producer    sink.Producer
	DeadLetters deadLetterStore
	State       *syncstate.State
	Metrics     cycleMetrics
}

// Orchestrator runs flush cycles: collect, resolve, sort, produce, commit.
// The pending batch and deferred queue carry over between cycles until their
// events are produced. RunCycle must not be called concurrently.
type Orchestrator struct {
	cfg       Config
	logg      *logger.Logger
	x         *envelope.Extractor
	stream    resolver.Stream
	committer committer
	resolver  dependencyResolver
	sorter    batchSorter
	producer  sink.Producer
	dlq       deadLetterStore
	state     *syncstate.State
	metrics   cycleMetrics

	pending     *resolver.Batch
	deferred    *resolver.DeferredQueue
	quarantined []quarantined
}

type quarantined struct {
	msg *envelope.Message
	err error
}

// CycleResult summarizes one flush cycle.
type CycleResult struct {
	ID           string
	Outcome      string
	Collected    int
	Produced     int
	DeadLettered int
	Committed    int
}

func New(params Params) (*Orchestrator, error) {
	if params.Logger == nil {
		return nil, stdErrors.New("logger is required")
	}
	if params.Stream == nil {
		return nil, stdErrors.New("stream is required")
	}
	if params.Committer == nil {
		return nil, stdErrors.New("committer is required")
	}
	if params.Resolver == nil {
		return nil, stdErrors.New("resolver is required")
	}
	if params.Sorter == nil {
		return nil, stdErrors.New("sorter is required")
	}
	if params.Producer == nil {
		return nil, stdErrors.New("producer is required")
	}
	if params.DeadLetters == nil {
		return nil, stdErrors.New("dead letter store is required")
	}
	if params.State == nil {
		return nil, stdErrors.New("sync state is required")
	}
	if len(params.Config.Chains) == 0 {
		return nil, stdErrors.New("at least one dependency chain is required")
	}
	if params.Config.BatchWindow <= 0 || params.Config.PollTimeout <= 0 {
		return nil, stdErrors.New("batch window and poll timeout must be positive")
	}

	cfg := params.Config
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if !cfg.UnresolvedPolicy.IsValid() {
		cfg.UnresolvedPolicy = enums.UnresolvedProceed
	}
	if !cfg.CyclePolicy.IsValid() {
		cfg.CyclePolicy = enums.CycleFail
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	x := params.Extractor
	if x == nil {
		x = envelope.NewExtractor(params.Logger)
	}

	return &Orchestrator{
		cfg:       cfg,
		logg:      params.Logger,
		x:         x,
		stream:    params.Stream,
		committer: params.Committer,
		resolver:  params.Resolver,
		sorter:    params.Sorter,
		producer:  params.Producer,
		dlq:       params.DeadLetters,
		state:     params.State,
		metrics:   params.Metrics,
		pending:   resolver.NewBatch(),
		deferred:  resolver.NewDeferredQueue(),
	}, nil
}

// Run loops flush cycles until ctx ends. Failed cycles back off with jitter;
// their events and offsets are retried on the next cycle.
func (o *Orchestrator) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if o.cfg.WaitForSnapshot && !o.state.InitialLoadComplete() {
		o.logg.Info(ctx, "waiting for both relays to finish their snapshot")
		if err := o.state.WaitInitialLoad(ctx, snapshotPoll); err != nil {
			return err
		}
		o.logg.Info(ctx, "initial load complete; starting flush cycles")
	}

	backoff := o.cfg.RetryBase
	for {
		select {
		case <-ctx.Done():
			o.logg.Info(ctx, "flush orchestrator context canceled")
			return ctx.Err()
		default:
		}

		if _, err := o.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, o.cfg.RetryBase, o.cfg.MaxBackoff)
			if err := sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}
		backoff = o.cfg.RetryBase
	}
}

// RunCycle executes one flush cycle. On error the pending events and every
// uncommitted offset are kept for the next cycle.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleResult, error) {
	started := time.Now()
	result := CycleResult{ID: uuid.NewString()}
	ctx = o.logg.WithCycleID(ctx, result.ID)

	outcome, err := o.runCycle(ctx, &result)
	result.Outcome = outcome
	if err != nil && ctx.Err() != nil {
		result.Outcome = OutcomeCanceled
	}

	o.finishCycle(ctx, result, err, time.Since(started))
	return result, err
}

func (o *Orchestrator) runCycle(ctx context.Context, result *CycleResult) (string, error) {
	collected, err := o.collect(ctx)
	result.Collected = len(collected)
	if err != nil {
		return OutcomeCanceled, err
	}
	for _, msg := range o.deferred.Drain() {
		if cause := o.admissible(msg); cause != nil {
			o.quarantine(ctx, msg, cause)
			continue
		}
		o.pending.Add(msg)
	}
	for _, msg := range collected {
		o.pending.Add(msg)
	}
	dead, err := o.flushQuarantine(ctx)
	result.DeadLettered += dead
	if err != nil {
		return OutcomeDeadLetter, err
	}

	if o.pending.Len() == 0 && len(o.pending.Offsets()) == 0 {
		return OutcomeEmpty, nil
	}

	dead, err = o.resolve(ctx)
	result.DeadLettered += dead
	if err != nil {
		if errors.HasCode(err, errors.CodeUnresolvedDependency) {
			return OutcomeUnresolved, err
		}
		return OutcomeDeadLetter, err
	}

	ordered, dead, err := o.sortPending(ctx)
	result.DeadLettered += dead
	if err != nil {
		if errors.HasCode(err, errors.CodeDependencyCycle) {
			return OutcomeCycle, err
		}
		return OutcomeDeadLetter, err
	}

	produced, err := o.produce(ctx, ordered)
	result.Produced = produced
	if err != nil {
		return OutcomeProduceFailed, err
	}

	committed, err := o.commit(ctx)
	result.Committed = committed
	if err != nil {
		return OutcomeCommitFailed, err
	}
	if produced == 0 && committed == 0 {
		return OutcomeEmpty, nil
	}
	return OutcomeCommitted, nil
}

func (o *Orchestrator) finishCycle(ctx context.Context, result CycleResult, err error, elapsed time.Duration) {
	ok := err == nil
	if o.metrics != nil {
		o.metrics.ObserveCycle(result.Outcome, elapsed)
		o.metrics.SetDeferredDepth(o.deferred.Len())
	}
	o.state.RecordCycle(o.pending.Len(), o.deferred.Len(), ok, time.Now())

	fields := map[string]any{
		"outcome":       result.Outcome,
		"collected":     result.Collected,
		"produced":      result.Produced,
		"dead_lettered": result.DeadLettered,
		"committed":     result.Committed,
		"pending":       o.pending.Len(),
		"deferred":      o.deferred.Len(),
		"duration_ms":   elapsed.Milliseconds(),
	}
	logCtx := o.logg.WithFields(ctx, fields)
	switch {
	case ok && result.Outcome == OutcomeEmpty:
		o.logg.Debug(logCtx, "flush cycle idle")
	case ok:
		o.logg.Info(logCtx, "flush cycle committed")
	case result.Outcome == OutcomeCanceled:
		o.logg.Info(logCtx, "flush cycle interrupted")
	default:
		o.logg.Error(o.logg.WithFields(logCtx, errors.Dump(err).Fields()), "flush cycle retained", err)
	}
}

// Pending returns a copy of the events carried into the next cycle.
func (o *Orchestrator) Pending() []*envelope.Message {
	return o.pending.Snapshot()
}

// Deferred reports how many consumed messages wait for the next cycle.
func (o *Orchestrator) Deferred() int {
	return o.deferred.Len()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	return d + jitter
}

func describe(msg *envelope.Message) string {
	if msg == nil {
		return "<nil>"
	}
	return fmt.Sprintf("message at %s", msg.Offset)
}
