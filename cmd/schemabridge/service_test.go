package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/schemabridge/api/controllers"
	"github.com/angelmondragon/schemabridge/pkg/db"
	"github.com/angelmondragon/schemabridge/pkg/logger"
)

type blockingRunner struct {
	started atomic.Int32
	err     error
}

func (r *blockingRunner) Run(ctx context.Context) error {
	r.started.Add(1)
	if r.err != nil {
		return r.err
	}
	<-ctx.Done()
	return ctx.Err()
}

type fakeServer struct {
	done     chan struct{}
	shutdown atomic.Bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{done: make(chan struct{})}
}

func (s *fakeServer) ListenAndServe() error {
	<-s.done
	return http.ErrServerClosed
}

func (s *fakeServer) Shutdown(context.Context) error {
	if s.shutdown.CompareAndSwap(false, true) {
		close(s.done)
	}
	return nil
}

type fakeCloser struct {
	name  string
	err   error
	order *[]string
}

func (c *fakeCloser) Close() error {
	*c.order = append(*c.order, c.name)
	return c.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "schemabridge-test", Output: &bytes.Buffer{}})
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	relayA, relayB, orch := &blockingRunner{}, &blockingRunner{}, &blockingRunner{}
	server := newFakeServer()
	svc, err := NewService(ServiceParams{
		Logger:       testLogger(),
		Checks:       []controllers.ReadinessCheck{{Name: "database", Ping: func(context.Context) error { return nil }}},
		Relays:       []runner{relayA, relayB},
		Orchestrator: orch,
		Server:       server,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("service did not stop")
	}
	if relayA.started.Load() != 1 || relayB.started.Load() != 1 || orch.started.Load() != 1 {
		t.Fatalf("expected every runner to start once")
	}
	if !server.shutdown.Load() {
		t.Fatalf("expected ops server shutdown")
	}
}

func TestServiceRunFailsWhenDependencyNotReady(t *testing.T) {
	orch := &blockingRunner{}
	svc, err := NewService(ServiceParams{
		Logger: testLogger(),
		Checks: []controllers.ReadinessCheck{
			{Name: "kafka", Ping: func(context.Context) error { return errors.New("no brokers reachable") }},
		},
		Relays:       []runner{&blockingRunner{}},
		Orchestrator: orch,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	err = svc.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "kafka ping failed") {
		t.Fatalf("expected kafka readiness error, got %v", err)
	}
	if orch.started.Load() != 0 {
		t.Fatalf("orchestrator must not start before readiness")
	}
}

func TestServiceRunPropagatesComponentFailure(t *testing.T) {
	boom := errors.New("relay crashed")
	server := newFakeServer()
	svc, err := NewService(ServiceParams{
		Logger:       testLogger(),
		Relays:       []runner{&blockingRunner{err: boom}, &blockingRunner{}},
		Orchestrator: &blockingRunner{},
		Server:       server,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- svc.Run(context.Background()) }()
	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("expected relay error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("service did not stop after component failure")
	}
	if !server.shutdown.Load() {
		t.Fatalf("expected ops server shutdown after failure")
	}
}

func TestServiceCloseReleasesInReverseOrder(t *testing.T) {
	var order []string
	svc, err := NewService(ServiceParams{
		Logger:       testLogger(),
		Relays:       []runner{&blockingRunner{}},
		Orchestrator: &blockingRunner{},
		Closers: []namedCloser{
			{name: "database", closer: &fakeCloser{name: "database", order: &order}},
			{name: "writer", closer: &fakeCloser{name: "writer", err: errors.New("flush pending"), order: &order}},
			{name: "reader", closer: &fakeCloser{name: "reader", order: &order}},
		},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	err = svc.Close()
	if err == nil || !strings.Contains(err.Error(), "close writer") {
		t.Fatalf("expected writer close error, got %v", err)
	}
	if strings.Join(order, ",") != "reader,writer,database" {
		t.Fatalf("unexpected close order %v", order)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}

func TestNewServiceValidation(t *testing.T) {
	if _, err := NewService(ServiceParams{}); err == nil {
		t.Fatalf("expected missing logger error")
	}
	if _, err := NewService(ServiceParams{Logger: testLogger(), Orchestrator: &blockingRunner{}}); err == nil {
		t.Fatalf("expected missing relay error")
	}
	if _, err := NewService(ServiceParams{Logger: testLogger(), Relays: []runner{&blockingRunner{}}}); err == nil {
		t.Fatalf("expected missing orchestrator error")
	}
}

func TestMigrateSchemaCreatesTables(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	client := db.NewFromConn(conn)
	tables := map[string]string{"ADDRESS": "address_mappings", "INVOICE": "invoice_mappings", "EMPTY": ""}

	if err := migrateSchema(context.Background(), client, tables); err != nil {
		t.Fatalf("migrate schema: %v", err)
	}
	for _, table := range []string{"sync_dead_letters", "address_mappings", "invoice_mappings"} {
		if !conn.Migrator().HasTable(table) {
			t.Fatalf("expected table %s", table)
		}
	}
}
