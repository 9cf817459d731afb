package checkpoint

import (
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Definition{}, &Instance{}))
	return db
}

func newTestStores(t *testing.T) (DefinitionStore, InstanceStore) {
	db := newTestDB(t)
	logger := testLogger()
	return NewDefinitionStore(db, logger), NewInstanceStore(db, logger)
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}
