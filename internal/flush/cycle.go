package flush

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/angelmondragon/schemabridge/internal/chains"
	"github.com/angelmondragon/schemabridge/internal/deadletter"
	"github.com/angelmondragon/schemabridge/internal/envelope"
	"github.com/angelmondragon/schemabridge/internal/resolver"
	"github.com/angelmondragon/schemabridge/internal/sink"
	"github.com/angelmondragon/schemabridge/internal/sorter"
	"github.com/angelmondragon/schemabridge/pkg/enums"
	"github.com/angelmondragon/schemabridge/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// collect polls the buffer for one batch window. Well-formed messages are
// returned in arrival order; malformed ones are quarantined and only their
// offsets join the pending batch.
func (o *Orchestrator) collect(ctx context.Context) ([]*envelope.Message, error) {
	deadline := time.Now().Add(o.cfg.BatchWindow)
	var collected []*envelope.Message
	for {
		if err := ctx.Err(); err != nil {
			return collected, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return collected, nil
		}

		msg, err := o.stream.Consume(ctx, minDuration(o.cfg.PollTimeout, remaining))
		if err != nil {
			if ctx.Err() != nil {
				return collected, ctx.Err()
			}
			o.logg.Warn(o.logg.WithField(ctx, "error", err.Error()), "buffer poll failed during collection")
			if err := sleep(ctx, minDuration(o.cfg.PollTimeout, time.Until(deadline))); err != nil {
				return collected, err
			}
			continue
		}
		if msg == nil {
			continue
		}
		if cause := o.admissible(msg); cause != nil {
			o.quarantine(ctx, msg, cause)
			continue
		}
		collected = append(collected, msg)
	}
}

func (o *Orchestrator) admissible(msg *envelope.Message) error {
	if _, err := msg.Envelope(); err != nil {
		return err
	}
	if !o.x.Direction(msg, o.cfg.SourceNames).IsValid() {
		return errors.New(errors.CodeMalformedEnvelope, "envelope has no recognised __source_name")
	}
	return nil
}

func (o *Orchestrator) quarantine(ctx context.Context, msg *envelope.Message, cause error) {
	ctx = o.logg.WithPosition(ctx, msg.Offset.Topic, msg.Offset.Partition, msg.Offset.Offset)
	o.logg.Error(ctx, "quarantining unusable buffer message", cause)
	o.pending.RecordOffset(msg.Offset)
	o.quarantined = append(o.quarantined, quarantined{msg: msg, err: cause})
}

// flushQuarantine writes quarantined messages to the dead-letter store. Any
// message that could not be written stays quarantined and fails the cycle so
// its offset is not committed.
func (o *Orchestrator) flushQuarantine(ctx context.Context) (int, error) {
	written := 0
	for len(o.quarantined) > 0 {
		q := o.quarantined[0]
		entry := deadletter.Entry{
			Message:   q.msg,
			Direction: o.x.Direction(q.msg, o.cfg.SourceNames),
			Reason:    enums.DeadLetterMalformedEnvelope,
			Err:       q.err,
		}
		if err := o.dlq.Insert(ctx, entry); err != nil {
			return written, fmt.Errorf("dead letter %s: %w", describe(q.msg), err)
		}
		o.quarantined = o.quarantined[1:]
		o.countDeadLetter(entry.Reason)
		written++
	}
	o.quarantined = nil
	return written, nil
}

type unresolvedEvent struct {
	index     int
	msg       *envelope.Message
	eventType string
	dep       chains.Link
}

// resolve runs EnsureDependency for every event at a non-root chain
// position, bounded by MaxConcurrent, then applies the unresolved policy.
func (o *Orchestrator) resolve(ctx context.Context) (int, error) {
	events := o.pending.Snapshot()
	if len(events) == 0 {
		return 0, nil
	}
	types := make([]string, len(events))
	for i, msg := range events {
		if eventType, err := o.x.ExtractEventType(ctx, msg); err == nil {
			types[i] = eventType
		}
	}

	var (
		mu         sync.Mutex
		unresolved []unresolvedEvent
		seen       = map[*envelope.Message]struct{}{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrent)
	for _, chain := range o.cfg.Chains {
		for i, msg := range events {
			if chain.Position(types[i]) <= 0 {
				continue
			}
			g.Go(func() error {
				outcome, err := o.resolver.EnsureDependency(gctx, msg, chain, o.pending, o.deferred)
				if err != nil {
					return err
				}
				if outcome != resolver.OutcomeTimeout {
					return nil
				}
				dep, _ := chain.Dependency(types[i])
				mu.Lock()
				defer mu.Unlock()
				if _, dup := seen[msg]; dup {
					return nil
				}
				seen[msg] = struct{}{}
				unresolved = append(unresolved, unresolvedEvent{index: i, msg: msg, eventType: types[i], dep: dep})
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	if len(unresolved) == 0 {
		return 0, nil
	}
	sort.Slice(unresolved, func(a, b int) bool { return unresolved[a].index < unresolved[b].index })
	return o.applyUnresolvedPolicy(ctx, unresolved)
}

func (o *Orchestrator) applyUnresolvedPolicy(ctx context.Context, unresolved []unresolvedEvent) (int, error) {
	switch o.cfg.UnresolvedPolicy {
	case enums.UnresolvedFail:
		return 0, errors.New(errors.CodeUnresolvedDependency, fmt.Sprintf("%d events have unconfirmed dependencies", len(unresolved))).
			WithDetails(map[string]any{"unresolved": len(unresolved)})
	case enums.UnresolvedDeadLetter:
		for i, u := range unresolved {
			depID := o.x.ExtractDependencyID(ctx, u.msg, u.dep.IDField)
			cause := errors.New(errors.CodeUnresolvedDependency, fmt.Sprintf("%s %s not confirmed", u.dep.Type, depID))
			if err := o.divert(ctx, u.msg, enums.DeadLetterUnresolvedDependency, cause); err != nil {
				return i, err
			}
		}
		return len(unresolved), nil
	default:
		for _, u := range unresolved {
			aggregateID, _ := o.x.ExtractAggregateID(ctx, u.msg)
			logCtx := o.logg.WithEventKey(ctx, u.eventType, aggregateID)
			o.logg.Warn(o.logg.WithField(logCtx, "dependency_type", u.dep.Type), "producing event with unconfirmed dependency")
		}
		return 0, nil
	}
}

// divert records msg as a dead letter and removes it from the pending events.
// Its offset stays pending so it is committed with the cycle.
func (o *Orchestrator) divert(ctx context.Context, msg *envelope.Message, reason enums.DeadLetterReason, cause error) error {
	aggregateType, _ := o.x.ExtractEventType(ctx, msg)
	aggregateID, _ := o.x.ExtractAggregateID(ctx, msg)
	entry := deadletter.Entry{
		Message:       msg,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Direction:     o.x.Direction(msg, o.cfg.SourceNames),
		Reason:        reason,
		Err:           cause,
	}
	if err := o.dlq.Insert(ctx, entry); err != nil {
		return fmt.Errorf("dead letter %s: %w", describe(msg), err)
	}
	o.pending.Remove(msg)
	o.countDeadLetter(reason)
	o.logg.Warn(o.logg.WithEventKey(o.logg.WithField(ctx, "reason", string(reason)), aggregateType, aggregateID), "event diverted to dead letters")
	return nil
}

// sortPending orders the pending events and applies the cycle policy.
func (o *Orchestrator) sortPending(ctx context.Context) ([]*envelope.Message, int, error) {
	ordered, err := o.sorter.Sort(ctx, o.pending.Snapshot(), o.cfg.Chains)
	if err == nil {
		return ordered, 0, nil
	}
	var cycleErr *sorter.CycleError
	if !stdErrors.As(err, &cycleErr) {
		return nil, 0, err
	}

	remaining := len(cycleErr.Remaining)
	if remaining > len(ordered) {
		remaining = len(ordered)
	}
	split := len(ordered) - remaining
	logCtx := o.logg.WithField(ctx, "cycle_members", remaining)

	switch o.cfg.CyclePolicy {
	case enums.CycleAppend:
		o.logg.Error(logCtx, "dependency cycle in batch; appending unordered events", err)
		return ordered, 0, nil
	case enums.CycleDeadLetter:
		for i, msg := range ordered[split:] {
			if divertErr := o.divert(ctx, msg, enums.DeadLetterDependencyCycle, err); divertErr != nil {
				return nil, i, divertErr
			}
		}
		return ordered[:split], remaining, nil
	default:
		return nil, 0, err
	}
}

// produce sends ordered events one by one and stops at the first failure. The
// unproduced suffix becomes the pending batch.
func (o *Orchestrator) produce(ctx context.Context, ordered []*envelope.Message) (int, error) {
	for i, msg := range ordered {
		if err := ctx.Err(); err != nil {
			o.pending.Replace(ordered[i:])
			return i, err
		}
		direction := o.x.Direction(msg, o.cfg.SourceNames)
		destination := sink.Destination(o.cfg.DestinationPrefix, direction)
		if err := o.producer.Produce(ctx, destination, o.keyFor(ctx, msg), msg.Payload); err != nil {
			o.pending.Replace(ordered[i:])
			return i, fmt.Errorf("produce %s to %s: %w", describe(msg), destination, err)
		}
		if o.metrics != nil {
			aggregateType, _ := o.x.ExtractEventType(ctx, msg)
			o.metrics.IncProduced(direction.String(), aggregateType)
		}
	}
	o.pending.ClearEvents()
	return len(ordered), nil
}

func (o *Orchestrator) keyFor(ctx context.Context, msg *envelope.Message) string {
	if id, err := o.x.ExtractAggregateID(ctx, msg); err == nil && id != "" {
		return id
	}
	return string(msg.Key)
}

// commit acknowledges pending offsets below the deferred watermark. Offsets
// at or above a deferred message in the same partition wait for that message
// to be produced.
func (o *Orchestrator) commit(ctx context.Context) (int, error) {
	eligible := belowWatermark(o.pending.Offsets(), o.deferred.Offsets())
	if len(eligible) == 0 {
		return 0, nil
	}
	if err := o.committer.Commit(ctx, eligible); err != nil {
		return 0, err
	}
	o.pending.ReleaseOffsets(eligible)
	return len(eligible), nil
}

type partitionKey struct {
	topic     string
	partition int
}

func belowWatermark(offsets, held []envelope.Offset) []envelope.Offset {
	floor := map[partitionKey]int64{}
	for _, h := range held {
		key := partitionKey{topic: h.Topic, partition: h.Partition}
		if current, ok := floor[key]; !ok || h.Offset < current {
			floor[key] = h.Offset
		}
	}
	out := make([]envelope.Offset, 0, len(offsets))
	for _, off := range offsets {
		if limit, ok := floor[partitionKey{topic: off.Topic, partition: off.Partition}]; ok && off.Offset >= limit {
			continue
		}
		out = append(out, off)
	}
	return out
}

func (o *Orchestrator) countDeadLetter(reason enums.DeadLetterReason) {
	if o.metrics != nil {
		o.metrics.IncDeadLetter(string(reason))
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
