package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"churnguard/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newPipelineTestDB opens a named in-memory sqlite database. The shared
// cache plus a single pooled connection keeps it visible and safe
// across the pipeline's goroutines.
func newPipelineTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.User{},
		&models.Integration{},
		&models.Trigger{},
		&models.TriggerCondition{},
		&models.TriggerLease{},
		&models.EmailTemplate{},
		&models.AnalyticsSnapshot{},
		&models.TriggerExecution{},
		&models.DailyStats{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

// fakeSender records sends and fails any recipient listed in failFor.
type fakeSender struct {
	mu      sync.Mutex
	sent    []string
	failFor map[string]bool
}

func newFakeSender(failFor ...string) *fakeSender {
	m := make(map[string]bool, len(failFor))
	for _, addr := range failFor {
		m[addr] = true
	}
	return &fakeSender{failFor: m}
}

func (f *fakeSender) Send(ctx context.Context, to, subject, html, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[to] {
		return "", fmt.Errorf("smtp 550: mailbox unavailable")
	}
	f.sent = append(f.sent, to)
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

func (f *fakeSender) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}
