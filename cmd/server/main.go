// Package main provides the equipment search API server entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kikidoko/kikidoko-go/internal/config"
	"github.com/kikidoko/kikidoko-go/internal/logger"
	"github.com/kikidoko/kikidoko-go/internal/metrics"
	"github.com/kikidoko/kikidoko-go/internal/r2client"
	"github.com/kikidoko/kikidoko-go/internal/ratelimit"
	"github.com/kikidoko/kikidoko-go/internal/sentry"
	"github.com/kikidoko/kikidoko-go/internal/session"
	"github.com/kikidoko/kikidoko-go/internal/snapshot"
	"github.com/kikidoko/kikidoko-go/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithShipping(cfg.LogLevel, cfg.BetterStackToken, cfg.BetterStackEndpoint)
	log.Info("Starting kikidoko search server")

	if err := sentry.Initialize(sentry.Config{
		Token:       cfg.SentryToken,
		Host:        cfg.SentryHost,
		Environment: cfg.SentryEnvironment,
		SampleRate:  cfg.SentrySampleRate,
	}); err != nil {
		log.WithError(err).Warn("Sentry initialization failed, error tracking disabled")
	} else if sentry.IsEnabled() {
		defer sentry.Flush(2 * time.Second)
		log.Info("Sentry error tracking enabled")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.WithError(err).Errorf("Failed to create data directory %s", cfg.DataDir)
		os.Exit(1)
	}

	db, err := store.NewSQLite(cfg.SQLitePath())
	if err != nil {
		log.WithError(err).Error("Failed to open equipment store")
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	declareIndexes(db)
	log.WithField("path", cfg.SQLitePath()).Info("Equipment store opened")

	// Prometheus registry with standard runtime collectors
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewBuildInfoCollector())
	m := metrics.New(registry)
	log.Info("Metrics initialized")

	// Snapshot import: R2 when configured, local file otherwise
	var r2 *r2client.Client
	if cfg.R2Enabled {
		r2, err = r2client.New(context.Background(), r2client.Config{
			Endpoint:    cfg.R2Endpoint,
			AccessKeyID: cfg.R2AccessKeyID,
			SecretKey:   cfg.R2SecretKey,
			BucketName:  cfg.R2BucketName,
		})
		if err != nil {
			log.WithError(err).Error("Failed to create R2 client")
			os.Exit(1)
		}
	}
	snap := snapshot.New(r2, db, log, snapshot.Config{
		SnapshotKey:  cfg.R2SnapshotKey,
		LocalPath:    cfg.SnapshotPath,
		PollInterval: cfg.SnapshotPoll,
	})
	imported, err := snap.Load(context.Background())
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		count, _ := db.Count(context.Background())
		if count == 0 {
			log.Warn("No snapshot available and store is empty, serving an empty index")
		} else {
			log.WithField("records", count).Info("No new snapshot, serving existing store")
		}
	case err != nil:
		log.WithError(err).Error("Snapshot import failed")
		os.Exit(1)
	default:
		log.WithField("records", imported).Info("Snapshot imported")
	}

	serverCtx, serverCancel := context.WithCancel(context.Background())
	defer serverCancel()
	snap.StartPolling(serverCtx)

	sessions := session.NewManager(db, log, m, cfg.PageSize, cfg.SessionTTL, cfg.SessionSweep)
	defer sessions.Stop()

	limiter := ratelimit.NewPerKeyLimiter(ratelimit.PerKeyLimiterConfig{
		MaxTokens:     cfg.ClientRateBurst,
		RefillRate:    cfg.ClientRateRefill,
		CleanupPeriod: 5 * time.Minute,
	})
	limiter.OnDrop(m.RecordRateLimiterDrop)
	defer limiter.Stop()

	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if sentry.IsEnabled() {
		router.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	router.Use(securityHeadersMiddleware())
	router.Use(loggingMiddleware(log))
	router.Use(rateLimitMiddleware(limiter))

	api := newAPI(sessions, db, log, m, cfg.StoreQueryTimeout)
	setupRoutes(router, api, sessions, db, registry, cfg)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Failed to start server")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	snap.StopPolling()
	serverCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	if err := db.Close(); err != nil {
		log.WithError(err).Error("Failed to close equipment store")
	}

	log.Info("Server stopped")
}

// declareIndexes registers the composite index shapes the deployed
// document store actually has. Query shapes outside this set fail with
// a missing-index error and get the ordering clause dropped.
func declareIndexes(db *store.SQLiteStore) {
	db.DeclareIndex(store.FieldName)
	db.DeclareIndex(store.FieldName, store.FieldRegion)
	db.DeclareIndex(store.FieldName, store.FieldCategoryGeneral)
	db.DeclareIndex(store.FieldName, store.FieldRegion, store.FieldCategoryGeneral)
	db.DeclareIndex(store.FieldName, store.FieldPrefecture)
}
