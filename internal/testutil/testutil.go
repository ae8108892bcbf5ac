// Package testutil opens isolated in-memory databases for package tests.
package testutil

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/ksred/wuyi-market/internal/config"
	"github.com/ksred/wuyi-market/internal/database"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// MemoryDSN returns a private shared-cache in-memory SQLite DSN.
func MemoryDSN() string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
}

// NewDB returns a migrated in-memory database closed at test cleanup.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewDatabase(config.DatabaseConfig{Driver: "sqlite", DSN: MemoryDSN()})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// Config returns the default configuration pointed at an in-memory database.
func Config() *config.Config {
	cfg := config.Default()
	cfg.Database = config.DatabaseConfig{Driver: "sqlite", DSN: MemoryDSN()}
	return cfg
}
