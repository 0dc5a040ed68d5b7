// cmd/chaos/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookwarehouse/internal/catalog"
	"bookwarehouse/internal/chaos"
	"bookwarehouse/internal/config"
	"bookwarehouse/internal/database"
	"bookwarehouse/internal/observability"
	"bookwarehouse/internal/warehouse"
	"bookwarehouse/pkg/eventstore"

	"go.uber.org/zap"
)

func main() {
	duration := flag.Duration("duration", 30*time.Second, "observation window per experiment")
	cooldown := flag.Duration("cooldown", 10*time.Second, "pause between experiments")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var target *chaos.Target
	if cfg.Storage == config.StoragePostgres {
		db, err := database.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		if err := database.Migrate(ctx, db); err != nil {
			logger.Fatal("failed to migrate database", zap.Error(err))
		}
		pg := catalog.NewPostgresCatalog(db)
		if err := pg.Seed(ctx, catalog.SeedBooks()); err != nil {
			logger.Fatal("failed to seed catalog", zap.Error(err))
		}
		target = chaos.NewTarget(pg, warehouse.NewPostgresLedger(db),
			warehouse.NewPostgresOrderStore(db, eventstore.NewEventStore(db)), logger)
	} else {
		target = chaos.NewTarget(catalog.NewMemoryCatalog(catalog.SeedBooks()...),
			warehouse.NewMemoryLedger(), warehouse.NewMemoryOrderStore(), logger)
	}

	engine := chaos.NewEngine(logger, chaos.WithCooldown(*cooldown))
	engine.RegisterExperiments(target, *duration)

	held, err := engine.ExecuteGameDay(ctx, chaos.GameDay{
		Name:      "Warehouse Chaos Game Day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
	})
	if err != nil {
		logger.Fatal("chaos game day failed", zap.Error(err))
	}
	if !held {
		logger.Error("at least one hypothesis was violated")
		os.Exit(1)
	}
}
