// Package storetest provides an in-memory sqlite database for package tests.
package storetest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"laundry-share-backend/internal/db"
	"laundry-share-backend/internal/model"
)

// NewSQLite opens a private in-memory database with the full schema migrated.
func NewSQLite(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Migrate(gdb))
	return gdb
}

// SeedUser inserts a user with the given role.
func SeedUser(t testing.TB, gdb *gorm.DB, username string, role model.Role) *model.User {
	t.Helper()
	u := &model.User{Username: username, FirstName: username, Role: role}
	require.NoError(t, gdb.Create(u).Error)
	return u
}

// SetRate sets the per-kWh price on the machine row.
func SetRate(t testing.TB, gdb *gorm.DB, rate float64) {
	t.Helper()
	require.NoError(t, gdb.Model(&model.Machine{ID: model.MachineID}).Update("cost_per_kwh", rate).Error)
}
