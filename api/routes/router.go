package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/schemabridge/api/controllers"
	"github.com/angelmondragon/schemabridge/api/middleware"
	"github.com/angelmondragon/schemabridge/internal/syncstate"
	"github.com/angelmondragon/schemabridge/pkg/config"
	"github.com/angelmondragon/schemabridge/pkg/db/models"
	"github.com/angelmondragon/schemabridge/pkg/logger"
)

type deadLetterLister interface {
	List(ctx context.Context, limit int) ([]models.SyncDeadLetter, error)
}

// Params wires the operational endpoints served next to the sync loop.
type Params struct {
	Config      *config.Config
	Logger      *logger.Logger
	State       *syncstate.State
	DeadLetters deadLetterLister
	Gatherer    prometheus.Gatherer
	Checks      []controllers.ReadinessCheck
}

func NewRouter(p Params) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(p.Logger),
		middleware.RequestID(p.Logger),
		middleware.Logging(p.Logger),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(p.Config))
		r.Get("/ready", controllers.HealthReady(p.Config, p.Logger, p.Checks...))
	})

	r.Route("/sync", func(r chi.Router) {
		r.Get("/state", controllers.SyncState(p.State))
		if p.DeadLetters != nil {
			r.Get("/dead-letters", controllers.DeadLetters(p.DeadLetters, p.Logger))
		}
	})

	if p.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}
