// cmd/api/main.go
package main

import (
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"time"

	"bookwarehouse/internal/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func main() {
	logger, err := observability.NewLogger(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	catalogServiceURL, err := url.Parse(getEnv("CATALOG_SERVICE_URL", "http://localhost:8081"))
	if err != nil {
		logger.Fatal("invalid CATALOG_SERVICE_URL", zap.Error(err))
	}
	warehouseServiceURL, err := url.Parse(getEnv("WAREHOUSE_SERVICE_URL", "http://localhost:8082"))
	if err != nil {
		logger.Fatal("invalid WAREHOUSE_SERVICE_URL", zap.Error(err))
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	catalogProxy := http.StripPrefix("/api/v1/catalog", httputil.NewSingleHostReverseProxy(catalogServiceURL))
	warehouseProxy := http.StripPrefix("/api/v1", httputil.NewSingleHostReverseProxy(warehouseServiceURL))

	r.Handle("/api/v1/catalog/*", catalogProxy)
	r.Handle("/api/v1/warehouse/*", warehouseProxy)
	r.Handle("/api/v1/books", warehouseProxy)
	r.Handle("/api/v1/books/*", warehouseProxy)

	port := getEnv("PORT", "8080")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("API gateway listening", zap.String("port", port))
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal("gateway failed", zap.Error(err))
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
