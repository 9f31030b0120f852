package repos

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yunzhen-health/tcm-advisor/internal/platform/logger"
	"github.com/yunzhen-health/tcm-advisor/internal/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&types.AICallLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestAICallLogCreateFillsDefaults(t *testing.T) {
	repo := NewAICallLogRepo(newTestDB(t), logger.NewNop())
	ctx := context.Background()

	created, err := repo.Create(ctx, nil, []*types.AICallLog{
		{Operation: "diagnose", Model: "kimi-test", Status: "ok", LatencyMS: 120},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created = %d rows", len(created))
	}
	if created[0].ID == uuid.Nil {
		t.Fatalf("id not filled")
	}
	if created[0].CreatedAt.IsZero() {
		t.Fatalf("created_at not filled")
	}
}

func TestAICallLogListRecentOrdersAndLimits(t *testing.T) {
	repo := NewAICallLogRepo(newTestDB(t), logger.NewNop())
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	var rows []*types.AICallLog
	for i := 0; i < 4; i++ {
		rows = append(rows, &types.AICallLog{
			Operation: "question",
			Model:     "kimi-test",
			Status:    "ok",
			LatencyMS: int64(100 + i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	if _, err := repo.Create(ctx, nil, rows); err != nil {
		t.Fatalf("Create: %v", err)
	}

	recent, err := repo.ListRecent(ctx, nil, 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("len = %d, want 2", len(recent))
	}
	if recent[0].LatencyMS != 103 || recent[1].LatencyMS != 102 {
		t.Fatalf("not newest first: %d, %d", recent[0].LatencyMS, recent[1].LatencyMS)
	}

	all, err := repo.ListRecent(ctx, nil, 0)
	if err != nil {
		t.Fatalf("ListRecent default limit: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("default limit returned %d rows", len(all))
	}
}
