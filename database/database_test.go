package database

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	apperrors "github.com/kbukum/taskflow/errors"
	"github.com/kbukum/taskflow/component"
	"github.com/kbukum/taskflow/logger"
)

type widget struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex"`
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), sqlite.Open(":memory:"), Config{MaxOpenConns: 1, MaxIdleConns: 1, LogLevel: "silent"}, logger.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.AutoMigrate(&widget{}); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

func TestWithTransaction_CommitAndRollback(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.WithTransaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(&widget{Name: "a"}).Error
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	errAbort := errors.New("abort")
	err := db.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&widget{Name: "b"}).Error; err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected abort error, got %v", err)
	}

	var count int64
	db.WithContext(ctx).Model(&widget{}).Count(&count)
	if count != 1 {
		t.Errorf("expected 1 committed row, got %d", count)
	}
}

func TestWithTransaction_PanicRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		_ = db.WithTransaction(ctx, func(tx *gorm.DB) error {
			tx.Create(&widget{Name: "p"})
			panic("boom")
		})
	}()
	var count int64
	db.WithContext(ctx).Model(&widget{}).Count(&count)
	if count != 0 {
		t.Errorf("expected rollback, got %d rows", count)
	}
}

func TestFromDatabase(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var w widget
	err := db.WithContext(ctx).First(&w, 42).Error
	if appErr := FromDatabase(err, "widget"); appErr.Code != apperrors.ErrCodeNotFound {
		t.Errorf("expected NOT_FOUND, got %s", appErr.Code)
	}

	db.WithContext(ctx).Create(&widget{Name: "dup"})
	err = db.WithContext(ctx).Create(&widget{Name: "dup"}).Error
	if appErr := FromDatabase(err, "widget"); appErr.Code != apperrors.ErrCodeAlreadyExists {
		t.Errorf("expected ALREADY_EXISTS, got %s (%v)", appErr.Code, err)
	}

	appErr := FromDatabase(errors.New("dial tcp: connection refused"), "widget")
	if appErr.HTTPStatus != http.StatusServiceUnavailable || !appErr.Retryable {
		t.Errorf("expected retryable 503, got %d retryable=%v", appErr.HTTPStatus, appErr.Retryable)
	}
	if FromDatabase(nil, "widget") != nil {
		t.Error("expected nil for nil error")
	}
}

func TestComponent_Lifecycle(t *testing.T) {
	c := NewComponent(Config{Enabled: true, DSN: ":memory:", AutoMigrate: true, MaxOpenConns: 1, MaxIdleConns: 1, LogLevel: "silent"}, logger.Nop()).
		WithAutoMigrate(&widget{})
	if h := c.Health(context.Background()); h.Status != component.StatusUnhealthy {
		t.Errorf("expected unhealthy before start, got %s", h.Status)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.DB().GormDB.Migrator().HasTable(&widget{}) {
		t.Error("expected widget table to be migrated")
	}
	if h := c.Health(context.Background()); h.Status != component.StatusHealthy {
		t.Errorf("expected healthy, got %s: %s", h.Status, h.Message)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{Enabled: true}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults valid, got %v", err)
	}
	cfg.MaxIdleConns = 100
	if err := cfg.Validate(); err == nil {
		t.Error("expected idle > open to fail")
	}
	cfg = Config{Enabled: true}
	cfg.ApplyDefaults()
	cfg.SlowQueryThreshold = "soon"
	if err := cfg.Validate(); err == nil {
		t.Error("expected bad duration to fail")
	}
}
