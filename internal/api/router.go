// Package api wires the gin router for the consumer-facing surface.
package api

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mailminder/core/internal/api/handlers"
	"github.com/mailminder/core/internal/api/middleware"
	"github.com/mailminder/core/internal/checkpoint"
	"github.com/mailminder/core/internal/config"
	"github.com/mailminder/core/internal/digest"
	"github.com/mailminder/core/internal/services"
)

// SetupRouter initializes the gin router with all routes configured
func SetupRouter(cfg *config.Config, engine *digest.Engine, checkpoints *checkpoint.Store, orch *services.Orchestrator) (*gin.Engine, *middleware.APIKeyManager, error) {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     splitOrigins(cfg.CORSOrigins),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", middleware.APIKeyHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	apiKeyManager, err := middleware.NewAPIKeyManager(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}

	digestHandler := handlers.NewDigestHandler(engine)
	systemHandler := handlers.NewSystemHandler(engine, checkpoints, orch)

	// Health check endpoint (no auth required)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.Use(middleware.APIKeyMiddleware(apiKeyManager))

		api.GET("/status", systemHandler.Status)
		api.POST("/cycle", systemHandler.TriggerCycle)

		entries := api.Group("/digest")
		{
			entries.GET("", digestHandler.List)
			entries.GET("/grouped", digestHandler.Grouped)
			entries.GET("/:id", digestHandler.Get)
			entries.POST("/:id/surface", digestHandler.Surface)
			entries.POST("/:id/handle", digestHandler.Handle)
			entries.POST("/:id/defer", digestHandler.Defer)
			entries.POST("/:id/dismiss", digestHandler.Dismiss)
		}
	}

	return router, apiKeyManager, nil
}

func splitOrigins(origins string) []string {
	if origins == "" || origins == "*" {
		return []string{"*"}
	}
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
