// Package dbtest opens reconciled in-memory SQLite databases for tests.
package dbtest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/zulandar/dockyard/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var seq atomic.Int64

// Open returns a fresh in-memory database with the full schema applied.
// Each call gets its own named shared-cache database so goroutines in one
// test see the same data while tests stay isolated.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	g := OpenRaw(t)
	if _, err := db.Reconcile(context.Background(), g); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	return g
}

// OpenRaw returns a fresh in-memory database with no tables.
func OpenRaw(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:dbtest_%d?mode=memory&cache=shared&_busy_timeout=5000", seq.Add(1))
	g, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := g.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return g
}
