package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/schemabridge/api/controllers"
	"github.com/angelmondragon/schemabridge/internal/syncstate"
	"github.com/angelmondragon/schemabridge/pkg/config"
	"github.com/angelmondragon/schemabridge/pkg/db/models"
	"github.com/angelmondragon/schemabridge/pkg/enums"
	"github.com/angelmondragon/schemabridge/pkg/logger"
	"github.com/angelmondragon/schemabridge/pkg/metrics"
)

type stubDeadLetters struct {
	rows      []models.SyncDeadLetter
	err       error
	lastLimit int
}

func (s *stubDeadLetters) List(_ context.Context, limit int) ([]models.SyncDeadLetter, error) {
	s.lastLimit = limit
	return s.rows, s.err
}

func newTestRouter(t *testing.T, dl *stubDeadLetters, checks ...controllers.ReadinessCheck) (http.Handler, *syncstate.State) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewSyncMetrics(reg)
	m.IncRelayed(string(enums.DirectionAToB))
	state := syncstate.New()
	return NewRouter(Params{
		Config:      &config.Config{App: config.AppConfig{Env: "dev"}},
		Logger:      logger.New(logger.Options{ServiceName: "router-test", Output: &bytes.Buffer{}}),
		State:       state,
		DeadLetters: dl,
		Gatherer:    reg,
		Checks:      checks,
	}), state
}

func serve(h http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestHealthEndpoints(t *testing.T) {
	router, _ := newTestRouter(t, &stubDeadLetters{},
		controllers.ReadinessCheck{Name: "db", Ping: func(context.Context) error { return nil }},
	)
	if w := serve(router, "/health/live"); w.Code != http.StatusOK {
		t.Fatalf("live expected 200, got %d", w.Code)
	}
	w := serve(router, "/health/ready")
	if w.Code != http.StatusOK {
		t.Fatalf("ready expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestHealthReadyReportsFailingDependency(t *testing.T) {
	router, _ := newTestRouter(t, &stubDeadLetters{},
		controllers.ReadinessCheck{Name: "db", Ping: func(context.Context) error { return nil }},
		controllers.ReadinessCheck{Name: "kafka", Ping: func(context.Context) error { return errors.New("dial tcp: refused") }},
	)
	w := serve(router, "/health/ready")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"kafka":"error"`) {
		t.Fatalf("expected failing check in details, got %s", w.Body.String())
	}
	if strings.Contains(w.Body.String(), "refused") {
		t.Fatalf("dependency error text must not leak: %s", w.Body.String())
	}
}

func TestSyncStateEndpoint(t *testing.T) {
	router, state := newTestRouter(t, &stubDeadLetters{})
	state.MarkSnapshotComplete(enums.DirectionAToB)
	state.MarkSnapshotComplete(enums.DirectionBToA)
	state.RecordCycle(3, 1, true, time.Now())

	w := serve(router, "/sync/state")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Data struct {
			InitialLoadComplete bool               `json:"initialLoadComplete"`
			State               syncstate.Snapshot `json:"state"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Data.InitialLoadComplete || body.Data.State.Pending != 3 || body.Data.State.Deferred != 1 {
		t.Fatalf("unexpected state %+v", body.Data)
	}
}

func TestDeadLettersEndpoint(t *testing.T) {
	msg := "dependency Invoice:InvoiceId not satisfied"
	dl := &stubDeadLetters{rows: []models.SyncDeadLetter{{
		ID:            uuid.New(),
		Topic:         "schemabridge.buffer",
		Partition:     2,
		Offset:        41,
		AggregateType: "InvoiceLine",
		AggregateID:   "77",
		Direction:     enums.DirectionAToB,
		Reason:        enums.DeadLetterUnresolvedDependency,
		ErrorMessage:  &msg,
		FailedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}}}
	router, _ := newTestRouter(t, dl)

	w := serve(router, "/sync/dead-letters?limit=10")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if dl.lastLimit != 10 {
		t.Fatalf("expected limit 10, got %d", dl.lastLimit)
	}
	if !strings.Contains(w.Body.String(), "schemabridge.buffer/2@41") {
		t.Fatalf("expected position in body, got %s", w.Body.String())
	}

	if w := serve(router, "/sync/dead-letters?limit=abc"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", w.Code)
	}
	if w := serve(router, "/sync/dead-letters?limit=9000"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for limit out of range, got %d", w.Code)
	}

	dl.err = errors.New("connection reset")
	if w := serve(router, "/sync/dead-letters"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 on repository failure, got %d", w.Code)
	}
	if dl.lastLimit != 50 {
		t.Fatalf("expected default limit 50, got %d", dl.lastLimit)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, &stubDeadLetters{})
	w := serve(router, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "schemabridge_") {
		t.Fatalf("expected schemabridge metrics, got %s", w.Body.String())
	}
}
