package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dscybers/phishshield/internal/adapter/controller/http/handlers"
	"github.com/dscybers/phishshield/internal/adapter/controller/http/middleware"
	"github.com/dscybers/phishshield/internal/adapter/controller/ws"
	"github.com/dscybers/phishshield/internal/adapter/external/publisher"
	"github.com/dscybers/phishshield/internal/adapter/repository/clickhouse"
	"github.com/dscybers/phishshield/internal/app"
	"github.com/dscybers/phishshield/internal/config"
	"github.com/dscybers/phishshield/internal/telemetry"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := config.SetupLogger(cfg)
	logger.Info("Starting PhishShield API",
		"env", cfg.App.Env,
		"port", cfg.App.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	shutdownMetrics, err := telemetry.Init(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		logger.Warn("[OTEL] Metrics exporter unavailable", "error", err)
	}
	metrics := telemetry.NewMetrics(nil)

	// Analysis pipeline
	pipeline, err := app.Build(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("Failed to build analysis pipeline", "error", err)
		os.Exit(1)
	}

	if err := pipeline.Feeds.Start(ctx); err != nil {
		logger.Error("Failed to start feed ingester", "error", err)
		os.Exit(1)
	}

	// WebSocket hub
	hub := ws.NewHub(logger)
	go hub.Run(ctx)
	pipeline.Analysis.AddPublisher(hub)
	pipeline.Analysis.SetBatchNotifier(hub)

	// Verdict history
	if cfg.ClickHouse.Enabled {
		conn, err := clickhouse.NewConnection(&cfg.ClickHouse, logger)
		if err != nil {
			logger.Error("Failed to connect to ClickHouse, verdict history disabled", "error", err)
		} else if err := conn.EnsureSchema(ctx); err != nil {
			logger.Error("Failed to create verdict schema, verdict history disabled", "error", err)
			conn.Close()
		} else {
			pipeline.AddCloser(conn.Close)
			pipeline.Checks["clickhouse"] = conn.Ping
			pipeline.Analysis.SetStore(clickhouse.NewVerdictsRepository(conn))
		}
	}

	// Verdict events
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPub := publisher.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		pipeline.AddCloser(kafkaPub.Close)
		pipeline.Analysis.AddPublisher(kafkaPub)
		logger.Info("Kafka verdict publisher enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	// Auth on write endpoints; disabled without JWT_SECRET
	validator := middleware.NewTokenValidator(cfg.JWT.Secret)
	if validator == nil {
		logger.Warn("JWT_SECRET not set, report and feed sync endpoints are unauthenticated")
	}

	analysisHandler := handlers.NewAnalysisHandler(pipeline.Analysis)
	threatsHandler := handlers.NewThreatsHandler(pipeline.Threats)
	healthHandler := handlers.NewHealthHandler(cfg.App.Env, pipeline.Analysis.EnabledLayers())
	for name, check := range pipeline.Checks {
		healthHandler.AddCheck(name, check)
	}

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health checks (no auth, no rate limit)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Get("/live", healthHandler.Live)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(100, time.Minute))
		r.Use(chimw.Compress(5))

		r.Route("/analyze", func(r chi.Router) {
			// Batches are expensive; limit them separately
			analysisHandler.Routes(r, httprate.LimitByIP(10, time.Minute))
		})

		r.Route("/threat-intel", func(r chi.Router) {
			threatsHandler.Routes(r)

			r.Group(func(r chi.Router) {
				r.Use(middleware.JWTAuth(validator))
				r.Use(middleware.RequireRole(validator, "admin", "analyst"))
				r.Post("/report", threatsHandler.ReportThreat)
				r.Get("/reports", threatsHandler.GetReports)
				r.Post("/feeds/sync", threatsHandler.SyncFeeds)
			})
		})
	})

	// WebSocket endpoint
	r.With(middleware.JWTAuth(validator)).Get("/ws", hub.ServeWS)

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.App.Host, cfg.App.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// An analysis may run for the whole pipeline timeout
		WriteTimeout: cfg.Pipeline.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	if err := pipeline.Close(); err != nil {
		logger.Error("Failed to release resources", "error", err)
	}
	if err := shutdownMetrics(shutdownCtx); err != nil {
		logger.Warn("[OTEL] Failed to flush metrics", "error", err)
	}

	logger.Info("Server stopped")
}
