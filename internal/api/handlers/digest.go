// Package handlers implements the consumer-facing API. The lifecycle
// guard lives here: the digest engine mutates unconditionally, so this
// boundary is where illegal transitions are rejected.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mailminder/core/internal/digest"
	"github.com/mailminder/core/internal/model"
)

// DigestHandler exposes digest queries and lifecycle transitions
type DigestHandler struct {
	engine *digest.Engine
}

// NewDigestHandler creates a DigestHandler around the digest engine
func NewDigestHandler(engine *digest.Engine) *DigestHandler {
	return &DigestHandler{engine: engine}
}

// List returns entries filtered by status (default all)
func (h *DigestHandler) List(c *gin.Context) {
	status := c.DefaultQuery("status", digest.StatusAll)
	if status != digest.StatusAll && !model.Status(status).IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}

	entries := h.engine.ByStatus(status)
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// Grouped returns entries filtered by status, grouped by account
func (h *DigestHandler) Grouped(c *gin.Context) {
	status := c.DefaultQuery("status", digest.StatusAll)
	if status != digest.StatusAll && !model.Status(status).IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": h.engine.GroupedByAccount(status)})
}

// Get returns a single entry by message id
func (h *DigestHandler) Get(c *gin.Context) {
	entry, ok := h.engine.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Surface marks a new entry as read by the consumer
func (h *DigestHandler) Surface(c *gin.Context) {
	entry, ok := h.engine.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	if entry.Status != model.StatusNew {
		c.JSON(http.StatusConflict, gin.H{"error": "only new entries can be surfaced", "status": entry.Status})
		return
	}

	h.engine.MarkSurfaced(entry.MessageID)
	h.respondSaved(c, entry.MessageID)
}

// Handle resolves an entry. Terminal and deferred entries are rejected;
// deferred entries resolve automatically or surface again first.
func (h *DigestHandler) Handle(c *gin.Context) {
	h.transition(c, func(id string) { h.engine.MarkHandled(id) })
}

// deferRequest is the body for Defer
type deferRequest struct {
	Minutes int `json:"minutes" binding:"required,gt=0"`
}

// Defer snoozes an entry for the requested number of minutes
func (h *DigestHandler) Defer(c *gin.Context) {
	var req deferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "minutes must be a positive integer"})
		return
	}
	h.transition(c, func(id string) { h.engine.Defer(id, req.Minutes) })
}

// dismissRequest is the body for Dismiss
type dismissRequest struct {
	Reason string `json:"reason"`
}

// Dismiss discards an entry with an optional reason
func (h *DigestHandler) Dismiss(c *gin.Context) {
	var req dismissRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	h.transition(c, func(id string) { h.engine.Dismiss(id, req.Reason) })
}

// transition applies a guarded lifecycle mutation: the target must
// exist and be in new or surfaced; everything else is rejected here,
// not inside the state store.
func (h *DigestHandler) transition(c *gin.Context, mutate func(id string)) {
	entry, ok := h.engine.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	if entry.Status != model.StatusNew && entry.Status != model.StatusSurfaced {
		c.JSON(http.StatusConflict, gin.H{"error": "entry is not in a transitionable state", "status": entry.Status})
		return
	}

	mutate(entry.MessageID)
	h.respondSaved(c, entry.MessageID)
}

// respondSaved persists the digest and returns the updated entry
func (h *DigestHandler) respondSaved(c *gin.Context, messageID string) {
	if err := h.engine.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	entry, _ := h.engine.Get(messageID)
	c.JSON(http.StatusOK, entry)
}
