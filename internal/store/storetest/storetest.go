// Package storetest opens migrated in-memory databases for tests.
package storetest

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"signage-control-backend/internal/db"
	"signage-control-backend/internal/store"
)

var seq atomic.Int64

// Open returns a fresh migrated in-memory sqlite database holding both the
// operational and the identity schema.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:storetest_%d?mode=memory&cache=shared", seq.Add(1))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.MigrateOperational(gdb))
	require.NoError(t, db.MigrateIdentity(gdb))
	return gdb
}

// Gateway returns a gateway whose two stores share one in-memory database.
func Gateway(t *testing.T) (*store.Gateway, *gorm.DB) {
	t.Helper()
	gdb := Open(t)
	return store.NewGateway(gdb, gdb), gdb
}
