package db

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yunzhen-health/tcm-advisor/internal/kv"
	"github.com/yunzhen-health/tcm-advisor/internal/platform/logger"
	"github.com/yunzhen-health/tcm-advisor/internal/types"
	"github.com/yunzhen-health/tcm-advisor/internal/utils"
)

// SQLiteService owns the local database file standing in for the browser's
// durable storage: kv entries plus the AI call log.
type SQLiteService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSQLiteService(log *logger.Logger) (*SQLiteService, error) {
	serviceLog := log.With("service", "SQLiteService")

	path := utils.GetEnv("TCM_DB_PATH", "tcm-advisor.db", log)

	log.Info("Opening sqlite database...", "path", path)
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		log.Error("Failed to open sqlite database", "error", err)
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	return &SQLiteService{db: gdb, log: serviceLog}, nil
}

func (s *SQLiteService) AutoMigrateAll() error {
	s.log.Info("Auto migrating sqlite tables...")
	err := s.db.AutoMigrate(
		&kv.Entry{},
		&types.AICallLog{},
	)
	if err != nil {
		s.log.Error("Auto migration failed for sqlite tables", "error", err)
		return err
	}
	return nil
}

func (s *SQLiteService) DB() *gorm.DB { return s.db }
