package deadletter

import (
	"context"
	stdErrors "errors"
	"time"

	"github.com/angelmondragon/schemabridge/internal/envelope"
	"github.com/angelmondragon/schemabridge/pkg/db"
	"github.com/angelmondragon/schemabridge/pkg/db/models"
	"github.com/angelmondragon/schemabridge/pkg/enums"
	"github.com/angelmondragon/schemabridge/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	maxErrorLen      = 1024
	defaultListLimit = 50
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{db: conn}
}

// Entry describes one diverted message before it is persisted.
type Entry struct {
	Message       *envelope.Message
	AggregateType string
	AggregateID   string
	Direction     enums.Direction
	Reason        enums.DeadLetterReason
	Err           error
}

// Insert stores the entry. A message already recorded at the same transport
// position is not an error.
func (r *Repository) Insert(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return stdErrors.New("dead letter repository not initialized")
	}
	if entry.Message == nil {
		return stdErrors.New("dead letter message is required")
	}
	if !entry.Reason.IsValid() {
		return errors.New(errors.CodeValidation, "invalid dead letter reason").
			WithDetails(map[string]any{"reason": entry.Reason})
	}

	row := toModel(entry)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil
		}
		return errors.Wrap(errors.CodeDependency, err, "insert dead letter")
	}
	return nil
}

// List returns the most recent dead letters first.
func (r *Repository) List(ctx context.Context, limit int) ([]models.SyncDeadLetter, error) {
	if r == nil || r.db == nil {
		return nil, stdErrors.New("dead letter repository not initialized")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	var rows []models.SyncDeadLetter
	err := r.db.WithContext(ctx).
		Order("failed_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func toModel(entry Entry) models.SyncDeadLetter {
	msg := entry.Message
	row := models.SyncDeadLetter{
		ID:            uuid.New(),
		Topic:         msg.Offset.Topic,
		Partition:     msg.Offset.Partition,
		Offset:        msg.Offset.Offset,
		MessageKey:    string(msg.Key),
		AggregateType: entry.AggregateType,
		AggregateID:   entry.AggregateID,
		Direction:     entry.Direction,
		Payload:       append([]byte(nil), msg.Payload...),
		Reason:        entry.Reason,
		FailedAt:      time.Now().UTC(),
	}
	if entry.Err != nil {
		message := truncate(entry.Err.Error())
		row.ErrorMessage = &message
		if chain := errors.Dump(entry.Err).ChainString(); chain != "" {
			chain = truncate(chain)
			row.ErrorChain = &chain
		}
	}
	return row
}

func truncate(message string) string {
	if len(message) <= maxErrorLen {
		return message
	}
	return message[:maxErrorLen]
}
