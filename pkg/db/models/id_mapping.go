package models

import (
	"time"

	"github.com/google/uuid"
)

// IDMapping links a legacy integer key to its modern UUID counterpart. One
// table per aggregate type shares this shape.
type IDMapping struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	LegacyID  int64     `gorm:"column:legacy_id;not null;uniqueIndex"`
	ModernID  uuid.UUID `gorm:"column:modern_id;type:uuid;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
