// Package main provides the equipment search API server entry point.
package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kikidoko/kikidoko-go/internal/config"
	"github.com/kikidoko/kikidoko-go/internal/session"
	"github.com/kikidoko/kikidoko-go/internal/store"
)

// setupRoutes configures all HTTP routes
func setupRoutes(router *gin.Engine, a *api, sessions *session.Manager, db *store.SQLiteStore, registry *prometheus.Registry, cfg *config.Config) {
	// Root endpoint - redirect to the project page
	rootHandler := func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "https://github.com/kikidoko/kikidoko-go")
	}
	router.GET("/", rootHandler)
	router.HEAD("/", rootHandler)

	// Liveness probe - only that the process is running, never checks
	// dependencies
	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/healthz", healthHandler)
	router.HEAD("/healthz", healthHandler)

	// Readiness probe - full dependency check
	readyHandler := func(c *gin.Context) {
		if err := db.Ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"reason": err.Error(),
			})
			return
		}

		count, _ := db.Count(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"status":    "ready",
			"database":  "connected",
			"equipment": count,
			"sessions":  sessions.Count(),
		})
	}
	router.GET("/readyz", readyHandler)
	router.HEAD("/readyz", readyHandler)

	// Search API
	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/session", a.createSession)

		sess := apiGroup.Group("/session/:sid")
		sess.GET("/search", a.searchEquipment)
		sess.POST("/page", a.pageOp)
		sess.GET("/equipment/:id", a.equipmentDetail)
		sess.GET("/equipment/:id/similar", a.similarEquipment)
		sess.POST("/equipment/:id/similar/more", a.similarEquipmentMore)
		sess.POST("/history", a.historyOp)
	}

	// Prometheus metrics endpoint
	router.GET("/metrics",
		metricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword),
		gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
}
