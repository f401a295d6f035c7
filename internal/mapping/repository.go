package mapping

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/angelmondragon/schemabridge/pkg/enums"
	"github.com/angelmondragon/schemabridge/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	legacyColumn = "legacy_id"
	modernColumn = "modern_id"
)

// Repository answers whether a cross-schema id mapping already exists. Each
// dependency type has its own table with legacy_id (integer) and modern_id
// (uuid) columns.
type Repository struct {
	db     *gorm.DB
	tables map[string]string
}

func NewRepository(db *gorm.DB, tables map[string]string) (*Repository, error) {
	if db == nil {
		return nil, stdErrors.New("database is required")
	}
	normalized := make(map[string]string, len(tables))
	for typ, table := range tables {
		typ = strings.ToUpper(strings.TrimSpace(typ))
		table = strings.TrimSpace(table)
		if typ == "" || table == "" {
			continue
		}
		normalized[typ] = table
	}
	if len(normalized) == 0 {
		return nil, stdErrors.New("at least one mapping table is required")
	}
	return &Repository{db: db, tables: normalized}, nil
}

// Table returns the mapping table for a dependency type.
func (r *Repository) Table(dependencyType string) (string, bool) {
	table, ok := r.tables[strings.ToUpper(strings.TrimSpace(dependencyType))]
	return table, ok
}

// MappingExists looks the id up by legacy_id for A_TO_B and by modern_id for
// B_TO_A. An id whose shape only fits the other column is looked up there
// instead; ids that fit neither, and unknown types, report false without a
// query.
func (r *Repository) MappingExists(ctx context.Context, dependencyType, aggregateID string, direction enums.Direction) (bool, error) {
	table, ok := r.Table(dependencyType)
	if !ok {
		return false, nil
	}
	column, value, ok := columnFor(strings.TrimSpace(aggregateID), direction)
	if !ok {
		return false, nil
	}

	var count int64
	err := r.db.WithContext(ctx).
		Table(table).
		Where(fmt.Sprintf("%s = ?", column), value).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(errors.CodeDependency, err, fmt.Sprintf("lookup %s mapping", strings.ToLower(dependencyType)))
	}
	return count > 0, nil
}

func columnFor(id string, direction enums.Direction) (string, any, bool) {
	legacy, legacyErr := strconv.ParseInt(id, 10, 64)
	modern, modernErr := uuid.Parse(id)

	switch direction {
	case enums.DirectionAToB:
		if legacyErr == nil {
			return legacyColumn, legacy, true
		}
		if modernErr == nil {
			return modernColumn, modern, true
		}
	case enums.DirectionBToA:
		if modernErr == nil {
			return modernColumn, modern, true
		}
		if legacyErr == nil {
			return legacyColumn, legacy, true
		}
	}
	return "", nil, false
}
