package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/schemabridge/pkg/enums"
)

// SyncDeadLetter records buffered events that were diverted instead of
// being produced to their destination topic.
type SyncDeadLetter struct {
	ID            uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	Topic         string                 `gorm:"column:topic;not null;uniqueIndex:idx_dead_letter_position"`
	Partition     int                    `gorm:"column:partition;not null;uniqueIndex:idx_dead_letter_position"`
	Offset        int64                  `gorm:"column:offset;not null;uniqueIndex:idx_dead_letter_position"`
	MessageKey    string                 `gorm:"column:message_key"`
	AggregateType string                 `gorm:"column:aggregate_type"`
	AggregateID   string                 `gorm:"column:aggregate_id"`
	Direction     enums.Direction        `gorm:"column:direction"`
	Payload       json.RawMessage        `gorm:"column:payload_json;not null"`
	Reason        enums.DeadLetterReason `gorm:"column:reason;not null"`
	ErrorMessage  *string                `gorm:"column:error_message"`
	ErrorChain    *string                `gorm:"column:error_chain"`
	FailedAt      time.Time              `gorm:"column:failed_at;autoCreateTime"`
}

func (SyncDeadLetter) TableName() string {
	return "sync_dead_letters"
}
