package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yunzhen-health/tcm-advisor/internal/clients/moonshot"
	"github.com/yunzhen-health/tcm-advisor/internal/db"
	"github.com/yunzhen-health/tcm-advisor/internal/kv"
	"github.com/yunzhen-health/tcm-advisor/internal/platform/logger"
	"github.com/yunzhen-health/tcm-advisor/internal/repos"
	"github.com/yunzhen-health/tcm-advisor/internal/services"
	"github.com/yunzhen-health/tcm-advisor/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	log.Info("Loading environment variables from main...")
	kvBackend := utils.GetEnv("KV_BACKEND", "sqlite", log)

	// SQLite
	sqliteService, err := db.NewSQLiteService(log)
	if err != nil {
		log.Fatal("SQLite init failed", "error", err)
	}
	if err = sqliteService.AutoMigrateAll(); err != nil {
		log.Fatal("SQLite auto migration failed", "error", err)
	}
	theDB := sqliteService.DB()

	// Key-value store
	log.Info("Setting up key-value store from main...", "backend", kvBackend)
	var store kv.Store
	switch kvBackend {
	case "redis":
		store, err = kv.NewRedisStore(log)
	case "memory":
		store = kv.NewMemoryStore()
	default:
		store, err = kv.NewSQLiteStore(theDB, log)
	}
	if err != nil {
		log.Fatal("Key-value store init failed", "backend", kvBackend, "error", err)
	}

	// Repos
	log.Info("Setting up Repos from main...")
	aiCallLogRepo := repos.NewAICallLogRepo(theDB, log)

	// Clients
	log.Info("Setting up Moonshot client from main...")
	aiClient, err := moonshot.NewClient(log)
	if err != nil {
		log.Fatal("Moonshot client init failed", "error", err)
	}

	// Services
	log.Info("Setting up Services from main...")
	advisoryService, err := services.NewAdvisoryService(log, aiClient, aiCallLogRepo)
	if err != nil {
		log.Fatal("Advisory service init failed", "error", err)
	}
	recordStore, err := services.NewRecordStore(log, advisoryService, store)
	if err != nil {
		log.Fatal("Record store init failed", "error", err)
	}
	knowledgeStore, err := services.NewKnowledgeStore(log, advisoryService, store)
	if err != nil {
		log.Fatal("Knowledge store init failed", "error", err)
	}
	preferencesStore, err := services.NewPreferencesStore(log, store)
	if err != nil {
		log.Fatal("Preferences store init failed", "error", err)
	}

	// Load persisted state
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Loading persisted state from main...")
	recordStore.Initialize(ctx)
	if err := preferencesStore.Initialize(ctx); err != nil {
		log.Warn("Preferences load failed", "error", err)
	}
	if recent, err := aiCallLogRepo.ListRecent(ctx, nil, 5); err != nil {
		log.Warn("AI call log read failed", "error", err)
	} else {
		log.Info("AI call log loaded", "recent", len(recent))
	}

	log.Info("tcm-advisor ready",
		"records", recordStore.Count(),
		"knowledge_items", len(knowledgeStore.Items()),
		"language", preferencesStore.Language(),
		"theme", preferencesStore.Theme(),
	)

	<-ctx.Done()
	log.Info("Shutting down tcm-advisor...")
}
