package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/vibhukrishnas/sams-sub010/internal/api/middleware"
	"github.com/vibhukrishnas/sams-sub010/internal/api/rest"
	"github.com/vibhukrishnas/sams-sub010/internal/api/websocket"
	"github.com/vibhukrishnas/sams-sub010/internal/config"
	"github.com/vibhukrishnas/sams-sub010/internal/pkg/logger"
	"github.com/vibhukrishnas/sams-sub010/internal/pkg/tracing"
	"github.com/vibhukrishnas/sams-sub010/internal/repository"
	"github.com/vibhukrishnas/sams-sub010/internal/service"
)

func main() {
	log.Println("🚀 SAMS analytics core starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	log.Printf("📋 Configuration loaded: port=%d, db=%s, windows=%v", cfg.Port, cfg.DatabasePath, cfg.WindowSizes)

	slogger := logger.StdLogger()

	// Initialize tracing (no-op when otlp_endpoint is empty)
	shutdownTracing, err := tracing.Init("sams-analytics", cfg.OTLPEndpoint, cfg.TracingSamplingRate)
	if err != nil {
		log.Printf("⚠️  Warning: Failed to initialize tracing: %v", err)
		shutdownTracing = func() {}
	}
	defer shutdownTracing()

	// Initialize database
	log.Println("💾 Initializing database...")
	repo, err := repository.NewSQLiteRepository(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}
	defer repo.Close()

	if err := repo.RunMigrations(); err != nil {
		log.Fatalf("❌ Failed to run migrations: %v", err)
	}
	log.Println("✅ Database migrations completed")

	// Initialize WebSocket hub
	log.Println("🔌 Initializing broadcast hub...")
	hub := websocket.NewHub(ctx, cfg.JWTSecret, cfg.ClientQueueSize,
		time.Duration(cfg.HeartbeatTimeoutSec)*time.Second)
	go hub.Run()
	log.Println("✅ Broadcast hub started")

	// Initialize the analytics pipeline
	log.Println("⚙️  Initializing analytics pipeline...")
	pipeline, err := service.NewPipeline(cfg, slogger, repo, hub)
	if err != nil {
		log.Fatalf("❌ Failed to build pipeline: %v", err)
	}
	if err := pipeline.Warmup(ctx); err != nil {
		log.Printf("⚠️  Warning: Model warmup failed: %v", err)
	}
	pipelineDone := make(chan error, 1)
	go func() { pipelineDone <- pipeline.Run(ctx) }()
	log.Println("✅ Analytics pipeline started")

	// Setup HTTP router
	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Tracing)
	router.Use(middleware.Auth(cfg))
	router.Use(middleware.StructuredLog)
	router.Use(middleware.RateLimit(cfg))

	// Health and Prometheus endpoints
	healthz := rest.NewHealthzHandler(repo)
	router.HandleFunc("/healthz/live", healthz.Live).Methods("GET")
	router.HandleFunc("/healthz/ready", healthz.Ready).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API routes
	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	handler := rest.NewHandler(pipeline)
	rest.SetupRoutes(apiRouter, handler)

	// WebSocket routes
	wsHandler := websocket.NewHandler(ctx, hub)
	router.HandleFunc("/ws/alerts", wsHandler.ServeWS).Methods("GET")

	// Setup CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	handlerWithCORS := c.Handler(router)

	requestTimeout := time.Duration(cfg.RequestTimeoutSec) * time.Second
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handlerWithCORS,
		ReadTimeout:  requestTimeout,
		WriteTimeout: requestTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Printf("🌐 Server listening on port %d", cfg.Port)
		log.Printf("📡 API available at http://localhost:%d/api/v1", cfg.Port)
		log.Printf("🔌 WebSocket at ws://localhost:%d/ws/alerts", cfg.Port)
		log.Printf("❤️  Health check at http://localhost:%d/healthz/ready", cfg.Port)
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("")
	log.Println("🛑 Shutting down server...")

	shutdownTimeout := time.Duration(cfg.ShutdownTimeoutSec) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	// Stop the pipeline; the aggregator flushes open windows on the way out.
	cancel()
	select {
	case err := <-pipelineDone:
		if err != nil && err != context.Canceled {
			log.Printf("⚠️  Pipeline stopped with error: %v", err)
		}
		log.Println("✅ Pipeline drained")
	case <-time.After(shutdownTimeout):
		log.Println("⚠️  Pipeline drain timed out")
	}

	hub.Stop()
	log.Println("✅ Broadcast hub stopped")
	log.Println("✅ Server exited gracefully")
}
