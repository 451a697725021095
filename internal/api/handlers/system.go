package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mailminder/core/internal/checkpoint"
	"github.com/mailminder/core/internal/digest"
	"github.com/mailminder/core/internal/services"
)

// SystemHandler exposes the status view and the manual cycle trigger
type SystemHandler struct {
	engine      *digest.Engine
	checkpoints *checkpoint.Store
	orch        *services.Orchestrator
}

// NewSystemHandler creates a SystemHandler
func NewSystemHandler(engine *digest.Engine, checkpoints *checkpoint.Store, orch *services.Orchestrator) *SystemHandler {
	return &SystemHandler{engine: engine, checkpoints: checkpoints, orch: orch}
}

// Status reports per-account checkpoint health and digest tallies
func (h *SystemHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"accounts": h.checkpoints.All(),
		"digest":   h.engine.Tally(),
	})
}

// TriggerCycle kicks a cycle in the background unless one is running
func (h *SystemHandler) TriggerCycle(c *gin.Context) {
	go func() {
		if err := h.orch.RunCycle(context.Background()); err != nil {
			if errors.Is(err, services.ErrCycleInFlight) {
				return
			}
			log.Printf("[API] Manual cycle failed: %v", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "cycle started"})
}
