package flush

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/schemabridge/internal/chains"
	"github.com/angelmondragon/schemabridge/internal/deadletter"
	"github.com/angelmondragon/schemabridge/internal/envelope"
	"github.com/angelmondragon/schemabridge/internal/mappingcache"
	"github.com/angelmondragon/schemabridge/internal/resolver"
	"github.com/angelmondragon/schemabridge/internal/sorter"
	"github.com/angelmondragon/schemabridge/internal/syncstate"
	"github.com/angelmondragon/schemabridge/pkg/enums"
	"github.com/angelmondragon/schemabridge/pkg/errors"
	"github.com/angelmondragon/schemabridge/pkg/logger"
)

var sourceNames = enums.SourceNames{A: "source_a", B: "source_b"}

type fakeStream struct {
	mu     sync.Mutex
	queue  []*envelope.Message
	late   []*envelope.Message
	lateAt time.Time
}

func (s *fakeStream) Consume(ctx context.Context, timeout time.Duration) (*envelope.Message, error) {
	s.mu.Lock()
	if len(s.queue) > 0 {
		msg := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		return msg, nil
	}
	if len(s.late) > 0 && !time.Now().Before(s.lateAt) {
		msg := s.late[0]
		s.late = s.late[1:]
		s.mu.Unlock()
		return msg, nil
	}
	s.mu.Unlock()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}

func (s *fakeStream) push(msgs ...*envelope.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, msgs...)
}

type fakeCommitter struct {
	mu      sync.Mutex
	commits [][]envelope.Offset
	err     error
}

func (c *fakeCommitter) Commit(_ context.Context, offsets []envelope.Offset) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.commits = append(c.commits, append([]envelope.Offset(nil), offsets...))
	return nil
}

func (c *fakeCommitter) committed() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []int64
	for _, batch := range c.commits {
		for _, o := range batch {
			out = append(out, o.Offset)
		}
	}
	return out
}

type produced struct {
	destination string
	key         string
}

type fakeProducer struct {
	mu     sync.Mutex
	sent   []produced
	failAt int
	calls  int
}

func (p *fakeProducer) Produce(_ context.Context, destination, key string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failAt > 0 && p.calls == p.failAt {
		return errors.New(errors.CodeProduceFailed, "broker unavailable")
	}
	p.sent = append(p.sent, produced{destination: destination, key: key})
	return nil
}

func (p *fakeProducer) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.sent))
	for _, s := range p.sent {
		out = append(out, s.key)
	}
	return out
}

type fakeDeadLetters struct {
	mu      sync.Mutex
	entries []deadletter.Entry
	err     error
}

func (d *fakeDeadLetters) Insert(_ context.Context, entry deadletter.Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.entries = append(d.entries, entry)
	return nil
}

type fakeLookup struct {
	exists map[string]bool
}

func (l *fakeLookup) MappingExists(_ context.Context, dependencyType, aggregateID string, _ enums.Direction) (bool, error) {
	return l.exists[mappingcache.Key(dependencyType, aggregateID)], nil
}

type fakeMetrics struct {
	mu       sync.Mutex
	outcomes []string
	produced int
	dead     map[string]int
}

func (m *fakeMetrics) ObserveCycle(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *fakeMetrics) IncProduced(string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.produced++
}

func (m *fakeMetrics) IncDeadLetter(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dead == nil {
		m.dead = map[string]int{}
	}
	m.dead[reason]++
}

func (m *fakeMetrics) SetDeferredDepth(int) {}

type harness struct {
	orch      *Orchestrator
	stream    *fakeStream
	committer *fakeCommitter
	producer  *fakeProducer
	dlq       *fakeDeadLetters
	state     *syncstate.State
	metrics   *fakeMetrics
}

type harnessOptions struct {
	unresolved enums.UnresolvedPolicy
	cycle      enums.CyclePolicy
	set        chains.Set
	maxWait    time.Duration
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "flush-test", Output: &bytes.Buffer{}})
	stream := &fakeStream{}
	if opts.set == nil {
		opts.set = chains.Default()
	}
	if opts.maxWait <= 0 {
		opts.maxWait = 20 * time.Millisecond
	}

	res, err := resolver.New(resolver.Params{
		Config: resolver.Config{
			MaxWait:     opts.maxWait,
			PollTimeout: 2 * time.Millisecond,
			RetryDelay:  time.Millisecond,
			SourceNames: sourceNames,
		},
		Logger: logg,
		Cache:  mappingcache.NewMemoryCache(time.Hour),
		Lookup: &fakeLookup{},
		Stream: stream,
	})
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	h := &harness{
		stream:    stream,
		committer: &fakeCommitter{},
		producer:  &fakeProducer{},
		dlq:       &fakeDeadLetters{},
		state:     syncstate.New(),
		metrics:   &fakeMetrics{},
	}
	h.orch, err = New(Params{
		Config: Config{
			BatchWindow:       15 * time.Millisecond,
			PollTimeout:       2 * time.Millisecond,
			MaxConcurrent:     4,
			UnresolvedPolicy:  opts.unresolved,
			CyclePolicy:       opts.cycle,
			DestinationPrefix: "out",
			SourceNames:       sourceNames,
			Chains:            opts.set,
		},
		Logger:      logg,
		Stream:      stream,
		Committer:   h.committer,
		Resolver:    res,
		Sorter:      sorter.New(nil, logg),
		Producer:    h.producer,
		DeadLetters: h.dlq,
		State:       h.state,
		Metrics:     h.metrics,
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return h
}

func event(offset int64, eventType, id, op string, fields map[string]any) *envelope.Message {
	nested, _ := json.Marshal(fields)
	doc, _ := json.Marshal(map[string]any{
		"aggregate_type": eventType,
		"aggregate_id":   id,
		"event_type":     op,
		"__source_name":  "source_a",
		"payload":        string(nested),
	})
	return envelope.NewMessage(doc, time.Now(), envelope.Offset{Topic: "buffer", Partition: 0, Offset: offset})
}

func raw(offset int64, payload string) *envelope.Message {
	return envelope.NewMessage([]byte(payload), time.Now(), envelope.Offset{Topic: "buffer", Partition: 0, Offset: offset})
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalOffsets(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	seen := map[int64]int{}
	for _, v := range a {
		seen[v]++
	}
	for _, v := range b {
		seen[v]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}

func TestRunCycleOrdersProducesAndCommits(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.stream.push(
		event(1, "InvoiceLine", "L1", "CREATED", map[string]any{"InvoiceId": 5}),
		event(2, "Invoice", "5", "CREATED", map[string]any{"CustomerId": 3, "InvoiceId": 5}),
		event(3, "Customer", "3", "CREATED", map[string]any{"CustomerId": 3, "AddressId": 9}),
	)

	result, err := h.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.Outcome != OutcomeCommitted || result.Collected != 3 || result.Produced != 3 || result.Committed != 3 {
		t.Fatalf("unexpected result %+v", result)
	}
	if got := h.producer.keys(); !equalStrings(got, []string{"3", "5", "L1"}) {
		t.Fatalf("expected parents before children, got %v", got)
	}
	if h.producer.sent[0].destination != "out.a_to_b" {
		t.Fatalf("unexpected destination %q", h.producer.sent[0].destination)
	}
	if got := h.committer.committed(); !equalOffsets(got, []int64{1, 2, 3}) {
		t.Fatalf("unexpected committed offsets %v", got)
	}
	if len(h.orch.Pending()) != 0 {
		t.Fatalf("pending should be empty after commit")
	}
	if snap := h.state.Snapshot(); snap.Cycles != 1 || snap.LastSuccessAt == nil {
		t.Fatalf("expected successful cycle recorded, got %+v", snap)
	}
}

func TestRunCycleEmpty(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	result, err := h.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.Outcome != OutcomeEmpty || len(h.committer.commits) != 0 {
		t.Fatalf("expected idle cycle, got %+v commits=%v", result, h.committer.commits)
	}
}

func TestRunCycleProduceFailureRetainsSuffixAndOffsets(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.producer.failAt = 2
	h.stream.push(
		event(1, "Payment", "p1", "CREATED", nil),
		event(2, "Payment", "p2", "CREATED", nil),
		event(3, "Payment", "p3", "CREATED", nil),
	)

	result, err := h.orch.RunCycle(context.Background())
	if !errors.HasCode(err, errors.CodeProduceFailed) {
		t.Fatalf("expected produce failure, got %v", err)
	}
	if result.Outcome != OutcomeProduceFailed || result.Produced != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(h.committer.commits) != 0 {
		t.Fatalf("nothing may be committed after a produce failure")
	}
	if pending := h.orch.Pending(); len(pending) != 2 || pending[0].Offset.Offset != 2 {
		t.Fatalf("expected unproduced suffix retained, got %d events", len(pending))
	}

	result, err = h.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if got := h.producer.keys(); !equalStrings(got, []string{"p1", "p2", "p3"}) {
		t.Fatalf("expected no duplicate production, got %v", got)
	}
	if got := h.committer.committed(); !equalOffsets(got, []int64{1, 2, 3}) {
		t.Fatalf("expected all offsets committed on retry, got %v", got)
	}
	if h.metrics.outcomes[0] != OutcomeProduceFailed || h.metrics.outcomes[1] != OutcomeCommitted {
		t.Fatalf("unexpected cycle outcomes %v", h.metrics.outcomes)
	}
}

func TestRunCycleCommitFailureKeepsOffsets(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.committer.err = stdErrors.New("rebalance in progress")
	h.stream.push(event(1, "Payment", "p1", "CREATED", nil))

	if _, err := h.orch.RunCycle(context.Background()); err == nil {
		t.Fatalf("expected commit failure")
	}
	if len(h.orch.Pending()) != 0 {
		t.Fatalf("produced events must not be retained after a commit failure")
	}

	h.committer.err = nil
	if _, err := h.orch.RunCycle(context.Background()); err != nil {
		t.Fatalf("retry cycle: %v", err)
	}
	if got := h.committer.committed(); !equalOffsets(got, []int64{1}) {
		t.Fatalf("expected retained offset committed, got %v", got)
	}
	if len(h.producer.sent) != 1 {
		t.Fatalf("event must be produced exactly once, got %d", len(h.producer.sent))
	}
}

func TestRunCycleQuarantinesMalformedEnvelopes(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.stream.push(
		raw(1, "not json"),
		raw(2, `{"aggregate_type":"Payment","aggregate_id":"p9","__source_name":"elsewhere"}`),
		event(3, "Payment", "p1", "CREATED", nil),
	)

	result, err := h.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.DeadLettered != 2 || result.Produced != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	for _, entry := range h.dlq.entries {
		if entry.Reason != enums.DeadLetterMalformedEnvelope {
			t.Fatalf("unexpected reason %q", entry.Reason)
		}
	}
	if got := h.committer.committed(); !equalOffsets(got, []int64{1, 2, 3}) {
		t.Fatalf("quarantined offsets must be committed, got %v", got)
	}
}

func TestRunCycleDeadLetterWriteFailureRetainsOffsets(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.dlq.err = stdErrors.New("database down")
	h.stream.push(raw(1, "garbage"))

	if _, err := h.orch.RunCycle(context.Background()); err == nil {
		t.Fatalf("expected dead letter failure")
	}
	if len(h.committer.commits) != 0 {
		t.Fatalf("offset of an unrecorded message must not be committed")
	}

	h.dlq.err = nil
	if _, err := h.orch.RunCycle(context.Background()); err != nil {
		t.Fatalf("retry cycle: %v", err)
	}
	if len(h.dlq.entries) != 1 || !equalOffsets(h.committer.committed(), []int64{1}) {
		t.Fatalf("expected quarantine flushed and committed, entries=%d commits=%v", len(h.dlq.entries), h.committer.committed())
	}
}

func TestUnresolvedPolicies(t *testing.T) {
	orphan := func() *envelope.Message {
		return event(1, "InvoiceLine", "L1", "CREATED", map[string]any{"InvoiceId": 99})
	}

	t.Run("proceed", func(t *testing.T) {
		h := newHarness(t, harnessOptions{unresolved: enums.UnresolvedProceed})
		h.stream.push(orphan())
		if _, err := h.orch.RunCycle(context.Background()); err != nil {
			t.Fatalf("RunCycle: %v", err)
		}
		if len(h.producer.sent) != 1 || !equalOffsets(h.committer.committed(), []int64{1}) {
			t.Fatalf("expected event produced and committed")
		}
	})

	t.Run("deadletter", func(t *testing.T) {
		h := newHarness(t, harnessOptions{unresolved: enums.UnresolvedDeadLetter})
		h.stream.push(orphan())
		result, err := h.orch.RunCycle(context.Background())
		if err != nil {
			t.Fatalf("RunCycle: %v", err)
		}
		if len(h.producer.sent) != 0 || result.DeadLettered != 1 {
			t.Fatalf("expected event diverted, result %+v", result)
		}
		entry := h.dlq.entries[0]
		if entry.Reason != enums.DeadLetterUnresolvedDependency || entry.AggregateID != "L1" || entry.Direction != enums.DirectionAToB {
			t.Fatalf("unexpected dead letter %+v", entry)
		}
		if !errors.HasCode(entry.Err, errors.CodeUnresolvedDependency) {
			t.Fatalf("expected typed cause, got %v", entry.Err)
		}
		if !equalOffsets(h.committer.committed(), []int64{1}) {
			t.Fatalf("diverted offset must still be committed")
		}
		if h.metrics.dead[string(enums.DeadLetterUnresolvedDependency)] != 1 {
			t.Fatalf("expected dead letter metric, got %v", h.metrics.dead)
		}
	})

	t.Run("fail", func(t *testing.T) {
		h := newHarness(t, harnessOptions{unresolved: enums.UnresolvedFail})
		h.stream.push(orphan())
		result, err := h.orch.RunCycle(context.Background())
		if !errors.HasCode(err, errors.CodeUnresolvedDependency) {
			t.Fatalf("expected unresolved error, got %v", err)
		}
		if result.Outcome != OutcomeUnresolved || len(h.producer.sent) != 0 || len(h.committer.commits) != 0 {
			t.Fatalf("expected cycle retained, result %+v", result)
		}
		if len(h.orch.Pending()) != 1 {
			t.Fatalf("expected event kept pending")
		}
	})
}

func cyclicSet() chains.Set {
	return chains.Set{
		{{Type: "A", IDField: "AId"}, {Type: "B", IDField: "AId"}},
		{{Type: "B", IDField: "BId"}, {Type: "A", IDField: "BId"}},
	}
}

func pushCycle(h *harness) {
	h.stream.push(
		event(1, "Payment", "p1", "CREATED", nil),
		event(2, "A", "1", "CREATED", map[string]any{"BId": 2}),
		event(3, "B", "2", "CREATED", map[string]any{"AId": 1}),
	)
}

func TestCyclePolicies(t *testing.T) {
	t.Run("fail", func(t *testing.T) {
		h := newHarness(t, harnessOptions{set: cyclicSet()})
		pushCycle(h)
		result, err := h.orch.RunCycle(context.Background())
		if !errors.HasCode(err, errors.CodeDependencyCycle) {
			t.Fatalf("expected cycle error, got %v", err)
		}
		if result.Outcome != OutcomeCycle || len(h.producer.sent) != 0 || len(h.orch.Pending()) != 3 {
			t.Fatalf("expected batch retained, result %+v", result)
		}
	})

	t.Run("append", func(t *testing.T) {
		h := newHarness(t, harnessOptions{set: cyclicSet(), cycle: enums.CycleAppend})
		pushCycle(h)
		if _, err := h.orch.RunCycle(context.Background()); err != nil {
			t.Fatalf("RunCycle: %v", err)
		}
		if got := h.producer.keys(); !equalStrings(got, []string{"p1", "1", "2"}) {
			t.Fatalf("expected unordered events appended, got %v", got)
		}
	})

	t.Run("deadletter", func(t *testing.T) {
		h := newHarness(t, harnessOptions{set: cyclicSet(), cycle: enums.CycleDeadLetter})
		pushCycle(h)
		result, err := h.orch.RunCycle(context.Background())
		if err != nil {
			t.Fatalf("RunCycle: %v", err)
		}
		if got := h.producer.keys(); !equalStrings(got, []string{"p1"}) {
			t.Fatalf("expected only the acyclic event produced, got %v", got)
		}
		if result.DeadLettered != 2 || h.dlq.entries[0].Reason != enums.DeadLetterDependencyCycle {
			t.Fatalf("expected cycle members dead-lettered, result %+v", result)
		}
		if !equalOffsets(h.committer.committed(), []int64{1, 2, 3}) {
			t.Fatalf("expected every offset committed, got %v", h.committer.committed())
		}
	})
}

func TestDeferredMessagesHoldBackCommitWatermark(t *testing.T) {
	h := newHarness(t, harnessOptions{maxWait: 500 * time.Millisecond})
	h.stream.push(event(1, "InvoiceLine", "L1", "CREATED", map[string]any{"InvoiceId": 7}))
	h.stream.late = []*envelope.Message{
		event(10, "Payment", "p1", "CREATED", nil),
		event(11, "Invoice", "7", "CREATED", map[string]any{"InvoiceId": 7}),
	}
	h.stream.lateAt = time.Now().Add(40 * time.Millisecond)

	result, err := h.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if got := h.producer.keys(); !equalStrings(got, []string{"7", "L1"}) {
		t.Fatalf("expected late dependency produced first, got %v", got)
	}
	if result.Committed != 1 || !equalOffsets(h.committer.committed(), []int64{1}) {
		t.Fatalf("offsets above the deferred message must wait, got %v", h.committer.committed())
	}
	if h.orch.Deferred() != 1 {
		t.Fatalf("expected one deferred message, got %d", h.orch.Deferred())
	}

	if _, err := h.orch.RunCycle(context.Background()); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if got := h.producer.keys(); !equalStrings(got, []string{"7", "L1", "p1"}) {
		t.Fatalf("expected deferred message produced next cycle, got %v", got)
	}
	if !equalOffsets(h.committer.committed(), []int64{1, 10, 11}) {
		t.Fatalf("expected remaining offsets committed, got %v", h.committer.committed())
	}
	if h.orch.Deferred() != 0 {
		t.Fatalf("deferred queue should be drained")
	}
}

func TestDeferredMalformedMessagesAreQuarantined(t *testing.T) {
	h := newHarness(t, harnessOptions{maxWait: 60 * time.Millisecond})
	h.stream.push(event(1, "InvoiceLine", "L1", "CREATED", map[string]any{"InvoiceId": 111}))
	h.stream.late = []*envelope.Message{
		raw(2, "not json at all"),
		raw(3, `{"aggregate_type":"Payment","aggregate_id":"p9","__source_name":"elsewhere"}`),
	}
	h.stream.lateAt = time.Now().Add(25 * time.Millisecond)

	if _, err := h.orch.RunCycle(context.Background()); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if h.orch.Deferred() != 2 {
		t.Fatalf("expected both late messages deferred during the wait, got %d", h.orch.Deferred())
	}

	result, err := h.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if result.DeadLettered != 2 || len(h.dlq.entries) != 2 {
		t.Fatalf("expected deferred messages dead-lettered, result %+v entries=%d", result, len(h.dlq.entries))
	}
	for _, entry := range h.dlq.entries {
		if entry.Reason != enums.DeadLetterMalformedEnvelope {
			t.Fatalf("unexpected reason %q", entry.Reason)
		}
	}
	for _, sent := range h.producer.sent {
		if sent.destination != "out.a_to_b" {
			t.Fatalf("unusable message produced to %q", sent.destination)
		}
	}
	if got := h.producer.keys(); !equalStrings(got, []string{"L1"}) {
		t.Fatalf("expected only the invoice line produced, got %v", got)
	}
	if !equalOffsets(h.committer.committed(), []int64{1, 2, 3}) {
		t.Fatalf("expected quarantined offsets committed, got %v", h.committer.committed())
	}
	if h.orch.Deferred() != 0 {
		t.Fatalf("deferred queue should be drained")
	}
}

func TestBelowWatermark(t *testing.T) {
	offsets := []envelope.Offset{
		{Topic: "buffer", Partition: 0, Offset: 4},
		{Topic: "buffer", Partition: 0, Offset: 9},
		{Topic: "buffer", Partition: 1, Offset: 9},
	}
	held := []envelope.Offset{
		{Topic: "buffer", Partition: 0, Offset: 7},
		{Topic: "buffer", Partition: 0, Offset: 5},
	}
	got := belowWatermark(offsets, held)
	if len(got) != 2 || got[0].Offset != 4 || got[1].Partition != 1 {
		t.Fatalf("unexpected eligible offsets %v", got)
	}
	if len(belowWatermark(offsets, nil)) != 3 {
		t.Fatalf("without held messages every offset is eligible")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := h.orch.Run(ctx); !stdErrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
}

func TestRunWaitsForSnapshot(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.orch.cfg.WaitForSnapshot = true
	h.stream.push(event(1, "Payment", "p1", "CREATED", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	_ = h.orch.Run(ctx)
	if len(h.producer.sent) != 0 {
		t.Fatalf("no cycle may run before the initial load completes")
	}
}

func TestNewValidatesParams(t *testing.T) {
	if _, err := New(Params{}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestBackoffHelpers(t *testing.T) {
	if got := nextBackoff(0, time.Second, 5*time.Second); got != 2*time.Second {
		t.Fatalf("unexpected backoff %v", got)
	}
	if got := nextBackoff(4*time.Second, time.Second, 5*time.Second); got != 5*time.Second {
		t.Fatalf("backoff should cap, got %v", got)
	}
	if got := withJitter(time.Second); got < time.Second || got >= time.Second+jitterWindow {
		t.Fatalf("jitter out of range: %v", got)
	}
}
