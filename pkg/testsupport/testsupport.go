// Package testsupport provides fixtures shared by the package test suites:
// an in-memory SQLite database and a query-recording GORM logger.
package testsupport

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewInMemoryDB creates an in-memory SQLite DB and runs migrations for the
// given models. Pass a non-nil recorder to capture every executed statement.
func NewInMemoryDB(t *testing.T, recorder *QueryRecorder, models ...any) *gorm.DB {
	t.Helper()

	cfg := &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	}
	if recorder != nil {
		cfg.Logger = recorder
	}

	db, err := gorm.Open(sqlite.Open(":memory:"), cfg)
	if err != nil {
		t.Fatalf("opening in-memory database: %v", err)
	}
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("migrating models: %v", err)
	}
	if recorder != nil {
		recorder.Reset() // drop migration statements
	}
	return db
}

// QueryRecorder is a gorm logger that records every SQL statement it sees.
// Safe for concurrent use.
type QueryRecorder struct {
	mu      sync.Mutex
	queries []string
}

// LogMode implements gormlogger.Interface
func (r *QueryRecorder) LogMode(gormlogger.LogLevel) gormlogger.Interface { return r }

// Info implements gormlogger.Interface
func (r *QueryRecorder) Info(context.Context, string, ...any) {}

// Warn implements gormlogger.Interface
func (r *QueryRecorder) Warn(context.Context, string, ...any) {}

// Error implements gormlogger.Interface
func (r *QueryRecorder) Error(context.Context, string, ...any) {}

// Trace implements gormlogger.Interface, capturing the executed statement.
func (r *QueryRecorder) Trace(_ context.Context, _ time.Time, fc func() (string, int64), _ error) {
	sql, _ := fc()
	r.mu.Lock()
	r.queries = append(r.queries, sql)
	r.mu.Unlock()
}

// Queries returns a copy of the recorded statements in execution order.
func (r *QueryRecorder) Queries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.queries))
	copy(out, r.queries)
	return out
}

// Count returns the number of recorded statements.
func (r *QueryRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queries)
}

// CountContaining returns how many recorded statements contain substr.
func (r *QueryRecorder) CountContaining(substr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, q := range r.queries {
		if strings.Contains(q, substr) {
			n++
		}
	}
	return n
}

// Reset discards all recorded statements.
func (r *QueryRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = nil
}
