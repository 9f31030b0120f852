package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yunzhen-health/tcm-advisor/internal/platform/logger"
)

// Entry is the gorm model behind the sqlite-backed Store.
type Entry struct {
	Key       string    `gorm:"column:k;primaryKey"`
	Value     string    `gorm:"column:v;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Entry) TableName() string { return "kv_entry" }

type sqliteStore struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewSQLiteStore wraps an already-open gorm DB; the kv_entry table must be
// migrated by the db service before first use.
func NewSQLiteStore(db *gorm.DB, baseLog *logger.Logger) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db required")
	}
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &sqliteStore{db: db, log: baseLog.With("service", "SQLiteKVStore")}, nil
}

func (s *sqliteStore) Get(ctx context.Context, key string) (string, error) {
	var e Entry
	err := s.db.WithContext(ctx).Where("k = ?", key).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return e.Value, nil
}

func (s *sqliteStore) Set(ctx context.Context, key string, value string) error {
	e := Entry{Key: key, Value: value, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "k"}},
			DoUpdates: clause.AssignmentColumns([]string{"v", "updated_at"}),
		}).
		Create(&e).Error
}

func (s *sqliteStore) Remove(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("k = ?", key).Delete(&Entry{}).Error
}

func (s *sqliteStore) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&Entry{}).Error
}
