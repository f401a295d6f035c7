package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/schemabridge/api/responses"
	"github.com/angelmondragon/schemabridge/pkg/config"
	pkgerrors "github.com/angelmondragon/schemabridge/pkg/errors"
	"github.com/angelmondragon/schemabridge/pkg/logger"
)

const (
	envHeader          = "X-Schemabridge-Env"
	readinessTimeout   = 3 * time.Second
	readinessStatusOK  = "ok"
	readinessStatusErr = "error"
)

// ReadinessCheck is one dependency probed by /health/ready.
type ReadinessCheck struct {
	Name string
	Ping func(context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every dependency and reports 503 when any of them fails.
func HealthReady(cfg *config.Config, logg *logger.Logger, checks ...ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		results := make(map[string]string, len(checks))
		failed := false
		for _, check := range checks {
			if check.Ping == nil {
				continue
			}
			if err := check.Ping(ctx); err != nil {
				failed = true
				results[check.Name] = readinessStatusErr
				if logg != nil {
					logg.Warn(logg.WithFields(r.Context(), map[string]any{"dependency": check.Name, "error": err.Error()}), "readiness check failed")
				}
				continue
			}
			results[check.Name] = readinessStatusOK
		}

		if failed {
			responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeDependency, "dependency not ready").
				WithDetails(map[string]any{"checks": results}))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": results})
	}
}
