// cmd/warehouse/main.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookwarehouse/internal/catalog"
	"bookwarehouse/internal/clients"
	"bookwarehouse/internal/config"
	"bookwarehouse/internal/database"
	"bookwarehouse/internal/messaging"
	"bookwarehouse/internal/observability"
	"bookwarehouse/internal/warehouse"
	"bookwarehouse/pkg/eventstore"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func main() {
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

	shutdownTracing, err := observability.SetupTracing(ctx, "warehouse-service", cfg.OtelEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("failed to shut down tracing", zap.Error(err))
		}
	}()

	var db *sql.DB
	if cfg.Storage == config.StoragePostgres {
		db, err = database.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		if err := database.Migrate(ctx, db); err != nil {
			logger.Fatal("failed to migrate database", zap.Error(err))
		}
	}

	lookup, closeLookup, err := buildCatalog(ctx, cfg, db, logger)
	if err != nil {
		logger.Fatal("failed to set up catalog", zap.Error(err))
	}
	defer closeLookup()

	var (
		ledger warehouse.ShelfLedger
		orders warehouse.OrderStore
	)
	if db != nil {
		ledger = warehouse.NewPostgresLedger(db)
		orders = warehouse.NewPostgresOrderStore(db, eventstore.NewEventStore(db))
	} else {
		ledger = warehouse.NewMemoryLedger()
		orders = warehouse.NewMemoryOrderStore()
	}

	var opts []warehouse.Option
	if len(cfg.KafkaBrokers) > 0 {
		publisher := messaging.NewKafkaPublisher(messaging.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic), cfg.KafkaTopic)
		defer publisher.Close()
		opts = append(opts, warehouse.WithPublisher(publisher))
	}

	svc := warehouse.NewService(lookup, ledger, orders, nil, logger, opts...)
	handler := warehouse.NewHandler(svc, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(warehouse.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	handler.Routes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting warehouse service",
			zap.String("port", cfg.Port),
			zap.String("storage", cfg.Storage),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down warehouse service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// buildCatalog picks the book lookup: the catalog service over HTTP when
// configured, otherwise the local books table or the built-in seed list.
// A Redis cache is layered on top when REDIS_URL is set.
func buildCatalog(ctx context.Context, cfg *config.Config, db *sql.DB, logger *zap.Logger) (catalog.Lookup, func(), error) {
	var lookup catalog.Lookup
	switch {
	case cfg.CatalogServiceURL != "":
		lookup = clients.NewCatalogClient(cfg.CatalogServiceURL)
	case db != nil:
		pg := catalog.NewPostgresCatalog(db)
		if err := pg.Seed(ctx, catalog.SeedBooks()); err != nil {
			return nil, nil, err
		}
		lookup = pg
	default:
		lookup = catalog.NewMemoryCatalog(catalog.SeedBooks()...)
	}

	if cfg.RedisURL == "" {
		return lookup, func() {}, nil
	}
	client, err := clients.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	return clients.NewCachedCatalog(client, lookup, cfg.CatalogCacheTTL, logger), closeFn, nil
}
