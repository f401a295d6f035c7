package controllers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/angelmondragon/schemabridge/api/responses"
	"github.com/angelmondragon/schemabridge/internal/syncstate"
	"github.com/angelmondragon/schemabridge/pkg/db/models"
	pkgerrors "github.com/angelmondragon/schemabridge/pkg/errors"
	"github.com/angelmondragon/schemabridge/pkg/logger"
)

const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 500
)

type deadLetterLister interface {
	List(ctx context.Context, limit int) ([]models.SyncDeadLetter, error)
}

// SyncState reports snapshot progress and the sizes left by the last cycle.
func SyncState(state *syncstate.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := state.Snapshot()
		responses.WriteSuccess(w, map[string]any{
			"initialLoadComplete": snap.SnapshotAComplete && snap.SnapshotBComplete,
			"state":               snap,
		})
	}
}

type deadLetterView struct {
	ID            string `json:"id"`
	Position      string `json:"position"`
	AggregateType string `json:"aggregateType,omitempty"`
	AggregateID   string `json:"aggregateId,omitempty"`
	Direction     string `json:"direction,omitempty"`
	Reason        string `json:"reason"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
	FailedAt      string `json:"failedAt"`
}

// DeadLetters lists the most recent dead letters, newest first.
func DeadLetters(repo deadLetterLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := parseLimit(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := repo.List(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead letters"))
			return
		}
		views := make([]deadLetterView, 0, len(rows))
		for _, row := range rows {
			view := deadLetterView{
				ID:            row.ID.String(),
				Position:      row.Topic + "/" + strconv.Itoa(row.Partition) + "@" + strconv.FormatInt(row.Offset, 10),
				AggregateType: row.AggregateType,
				AggregateID:   row.AggregateID,
				Direction:     string(row.Direction),
				Reason:        string(row.Reason),
				FailedAt:      row.FailedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			}
			if row.ErrorMessage != nil {
				view.ErrorMessage = *row.ErrorMessage
			}
			views = append(views, view)
		}
		responses.WriteSuccess(w, map[string]any{"items": views, "limit": limit})
	}
}

func parseLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return defaultDeadLetterLimit, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "limit must be numeric").WithDetails(map[string]any{"field": "limit"})
	}
	if value < 1 || value > maxDeadLetterLimit {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "limit out of range").
			WithDetails(map[string]any{"field": "limit", "min": 1, "max": maxDeadLetterLimit})
	}
	return value, nil
}
