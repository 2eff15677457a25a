package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/visionflow/visionflow/internal/logger"
)

// setupTestRepository opens a migrated database in a temp dir. Records get
// strictly increasing timestamps one second apart.
func setupTestRepository(t *testing.T, driver string) *SQLiteRepository {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "db", "visionflow.db")
	db, err := NewDatabase(context.Background(), driver, dbPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo := NewSQLiteRepository(db, logger.NewTestLogger(t))
	repo.now = steppingClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return repo
}

func steppingClock(start time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return start.Add(time.Duration(n) * time.Second)
	}
}
