// Package storage is the Directory Store of the broker: users, counselors,
// sessions, messages, reports, appeals and audit records persisted through
// gorm, plus the Redis-backed waiting queue.
//
// Every method maps persistence failures into apperrors kinds. State
// transitions are expressed as conditional updates (WHERE <expected state>)
// and report whether they applied, so callers never compensate multi-step
// writes themselves.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sanctuary/backend/internal/config"
	"sanctuary/backend/internal/models"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Service wraps the gorm handle and the optional Redis client.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{DB: db, Redis: rdb}
}

// Connect opens the database selected by cfg.Driver.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("storage: connect %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == "sqlite" {
		// SQLite has a single writer; one connection also keeps an in-memory
		// database alive for the lifetime of the pool.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("storage: sqlite pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// AllModels lists every table owned by the store.
func AllModels() []any {
	return []any{
		&models.User{},
		&models.Counselor{},
		&models.Session{},
		&models.TransferRecord{},
		&models.Message{},
		&models.Report{},
		&models.Appeal{},
		&models.AuditEntry{},
		&models.AvailabilityChange{},
	}
}

// exclusivityIndexes back the single-session invariant: the insert of a
// second active session for the same user or current counselor fails inside
// the same statement that would create it.
var exclusivityIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active_user ON sessions (user_id) WHERE is_active`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active_counselor ON sessions (current_counselor_id) WHERE is_active`,
}

// Migrate creates tables and the partial unique indexes.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("storage: automigrate: %w", err)
	}
	for _, stmt := range exclusivityIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("storage: create index: %w", err)
		}
	}
	return nil
}

// Transaction runs fn against a Service bound to a single transaction.
// Returning an error from fn rolls everything back.
func (s *Service) Transaction(ctx context.Context, fn func(tx *Service) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Service{DB: tx, Redis: s.Redis})
	})
}

// Ping checks the database and, when configured, Redis.
func (s *Service) Ping(ctx context.Context) map[string]error {
	status := map[string]error{}
	sqlDB, err := s.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	status["database"] = err
	if s.Redis != nil {
		status["redis"] = s.Redis.Ping(ctx).Err()
	}
	return status
}

func (s *Service) db(ctx context.Context) *gorm.DB {
	return s.DB.WithContext(ctx)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func normalizePaging(page, pageSize, defaultSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultSize
	}
	if pageSize > 200 {
		pageSize = 200
	}
	return page, pageSize
}
