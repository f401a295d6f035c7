package mapping

import (
	"context"
	"testing"

	"github.com/angelmondragon/schemabridge/pkg/db/models"
	"github.com/angelmondragon/schemabridge/pkg/enums"
	"github.com/angelmondragon/schemabridge/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testTables = map[string]string{
	"address":  "address_mappings",
	"CUSTOMER": "customer_mappings",
	"Invoice":  "invoice_mappings",
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	for _, table := range testTables {
		require.NoError(t, conn.Table(table).AutoMigrate(&models.IDMapping{}))
	}
	return conn
}

func seed(t *testing.T, conn *gorm.DB, table string, legacy int64, modern uuid.UUID) {
	t.Helper()
	require.NoError(t, conn.Table(table).Create(&models.IDMapping{LegacyID: legacy, ModernID: modern}).Error)
}

func TestMappingExistsByDirection(t *testing.T) {
	conn := newTestDB(t)
	modern := uuid.New()
	seed(t, conn, "customer_mappings", 42, modern)

	repo, err := NewRepository(conn, testTables)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := repo.MappingExists(ctx, "Customer", "42", enums.DirectionAToB)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MappingExists(ctx, "CUSTOMER", modern.String(), enums.DirectionBToA)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MappingExists(ctx, "Customer", "43", enums.DirectionAToB)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.MappingExists(ctx, "Invoice", "42", enums.DirectionAToB)
	require.NoError(t, err)
	assert.False(t, ok, "mappings are per table")
}

func TestMappingExistsFallsBackOnIDShape(t *testing.T) {
	conn := newTestDB(t)
	modern := uuid.New()
	seed(t, conn, "address_mappings", 7, modern)

	repo, err := NewRepository(conn, testTables)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := repo.MappingExists(ctx, "Address", modern.String(), enums.DirectionAToB)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MappingExists(ctx, "Address", "7", enums.DirectionBToA)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMappingExistsWithoutQuery(t *testing.T) {
	conn := newTestDB(t)
	repo, err := NewRepository(conn, testTables)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := repo.MappingExists(ctx, "Payment", "1", enums.DirectionAToB)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.MappingExists(ctx, "Customer", "not-an-id", enums.DirectionAToB)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.MappingExists(ctx, "Customer", "1", enums.DirectionUnknown)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMappingExistsWrapsQueryErrors(t *testing.T) {
	conn := newTestDB(t)
	repo, err := NewRepository(conn, map[string]string{"ORDER": "missing_table"})
	require.NoError(t, err)

	_, err = repo.MappingExists(context.Background(), "Order", "1", enums.DirectionAToB)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeDependency))
}

func TestNewRepositoryValidates(t *testing.T) {
	_, err := NewRepository(nil, testTables)
	assert.Error(t, err)

	_, err = NewRepository(newTestDB(t), map[string]string{" ": "x"})
	assert.Error(t, err)

	repo, err := NewRepository(newTestDB(t), testTables)
	require.NoError(t, err)
	table, ok := repo.Table(" address ")
	assert.True(t, ok)
	assert.Equal(t, "address_mappings", table)
}
