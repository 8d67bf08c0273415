package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/certregistry/internal/registry"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// RegistryHandler serves registry-wide information
type RegistryHandler struct {
	registry *registry.Registry
}

// NewRegistryHandler creates a new registry handler
func NewRegistryHandler(reg *registry.Registry) *RegistryHandler {
	return &RegistryHandler{registry: reg}
}

// GetInfo returns the construction parameters and current supply
// GET /v1/registry
func (h *RegistryHandler) GetInfo(c *gin.Context) {
	RespondSuccess(c, gin.H{
		"name":         h.registry.Name(),
		"symbol":       h.registry.Symbol(),
		"issuer":       h.registry.Issuer(),
		"total_supply": h.registry.TotalSupply(),
	})
}

// ListEvents pages through the event log, oldest first
// GET /v1/events?after=<seq>&limit=<n>
func (h *RegistryHandler) ListEvents(c *gin.Context) {
	after, err := strconv.ParseUint(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_after", "after must be a non-negative integer")
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultEventLimit)))
	if err != nil || limit <= 0 {
		RespondError(c, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
		return
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	events := h.registry.Events(after, limit)

	next := after
	if len(events) > 0 {
		next = events[len(events)-1].Seq
	}

	RespondSuccess(c, gin.H{
		"events": events,
		"next":   next,
	})
}
