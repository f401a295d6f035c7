package syncstate

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/angelmondragon/schemabridge/pkg/enums"
)

// State is the process-wide sync context shared by the relays, the flush
// orchestrator and the ops surface. It is passed explicitly and safe for
// concurrent use.
type State struct {
	snapshotA atomic.Bool
	snapshotB atomic.Bool

	pending  atomic.Int64
	deferred atomic.Int64
	cycles   atomic.Int64
	lastOK   atomic.Int64
}

func New() *State {
	return &State{}
}

// MarkSnapshotComplete records that direction delivered its last snapshot marker.
func (s *State) MarkSnapshotComplete(direction enums.Direction) {
	switch direction {
	case enums.DirectionAToB:
		s.snapshotA.Store(true)
	case enums.DirectionBToA:
		s.snapshotB.Store(true)
	}
}

func (s *State) SnapshotComplete(direction enums.Direction) bool {
	switch direction {
	case enums.DirectionAToB:
		return s.snapshotA.Load()
	case enums.DirectionBToA:
		return s.snapshotB.Load()
	}
	return false
}

// InitialLoadComplete reports whether both directions finished their snapshot.
func (s *State) InitialLoadComplete() bool {
	return s.snapshotA.Load() && s.snapshotB.Load()
}

// WaitInitialLoad blocks until both snapshots completed or ctx ends.
func (s *State) WaitInitialLoad(ctx context.Context, poll time.Duration) error {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for !s.InitialLoadComplete() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// RecordCycle publishes the sizes observed at the end of a flush cycle.
func (s *State) RecordCycle(pending, deferred int, succeeded bool, at time.Time) {
	s.pending.Store(int64(pending))
	s.deferred.Store(int64(deferred))
	s.cycles.Add(1)
	if succeeded {
		s.lastOK.Store(at.UnixMilli())
	}
}

// Snapshot is a point-in-time copy for reporting.
type Snapshot struct {
	SnapshotAComplete bool       `json:"snapshotAComplete"`
	SnapshotBComplete bool       `json:"snapshotBComplete"`
	Pending           int64      `json:"pending"`
	Deferred          int64      `json:"deferred"`
	Cycles            int64      `json:"cycles"`
	LastSuccessAt     *time.Time `json:"lastSuccessAt,omitempty"`
}

func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		SnapshotAComplete: s.snapshotA.Load(),
		SnapshotBComplete: s.snapshotB.Load(),
		Pending:           s.pending.Load(),
		Deferred:          s.deferred.Load(),
		Cycles:            s.cycles.Load(),
	}
	if ms := s.lastOK.Load(); ms > 0 {
		at := time.UnixMilli(ms).UTC()
		snap.LastSuccessAt = &at
	}
	return snap
}
