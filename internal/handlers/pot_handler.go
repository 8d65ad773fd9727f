package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/chainpot/keeper/internal/ledger"
	"github.com/chainpot/keeper/internal/middleware"
	"github.com/chainpot/keeper/internal/services"
)

// PotHandler handles pot inspection and control HTTP requests
type PotHandler struct {
	potService services.PotService
}

// NewPotHandler creates a new PotHandler
func NewPotHandler(potService services.PotService) *PotHandler {
	return &PotHandler{
		potService: potService,
	}
}

// potIDParam parses the :id path segment as a pot id.
func potIDParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pot id"})
		return 0, false
	}
	return id, true
}

// GetPots handles GET /pots
func (h *PotHandler) GetPots(c *gin.Context) {
	c.JSON(http.StatusOK, h.potService.ListPots(c.Request.Context()))
}

// GetPot handles GET /pots/:id
func (h *PotHandler) GetPot(c *gin.Context) {
	id, ok := potIDParam(c)
	if !ok {
		return
	}
	status, err := h.potService.GetPot(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Pot not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve pot: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, status)
}

// WatchPot handles POST /pots/:id/watch
func (h *PotHandler) WatchPot(c *gin.Context) {
	id, ok := potIDParam(c)
	if !ok {
		return
	}
	if h.potService.Watch(c.Request.Context(), id) {
		c.JSON(http.StatusOK, gin.H{"message": "Pot added to watch set"})
	} else {
		c.JSON(http.StatusOK, gin.H{"message": "Pot already watched"})
	}
}

// UnwatchPot handles DELETE /pots/:id/watch
func (h *PotHandler) UnwatchPot(c *gin.Context) {
	id, ok := potIDParam(c)
	if !ok {
		return
	}
	if !h.potService.Unwatch(c.Request.Context(), id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Pot is not watched"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Pot removed from watch set"})
}

// RetryPot handles POST /pots/:id/retry
func (h *PotHandler) RetryPot(c *gin.Context) {
	id, ok := potIDParam(c)
	if !ok {
		return
	}
	clearedBy := c.GetString(middleware.ContextOperatorEmail)
	if err := h.potService.Retry(c.Request.Context(), id, clearedBy); err != nil {
		if errors.Is(err, services.ErrPotNotWatched) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Pot is not watched"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retry pot: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Fault cleared, pot re-queued"})
}

// GetSettlement handles GET /pots/:id/settlement
func (h *PotHandler) GetSettlement(c *gin.Context) {
	id, ok := potIDParam(c)
	if !ok {
		return
	}
	record, err := h.potService.GetSettlement(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "No settlement archived for this pot"})
		case errors.Is(err, services.ErrArchiveDisabled):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Settlement archive is disabled"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve settlement: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, record)
}

// GetSettlements handles GET /settlements
func (h *PotHandler) GetSettlements(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	records, total, err := h.potService.ListSettlements(c.Request.Context(), page, limit)
	if err != nil {
		if errors.Is(err, services.ErrArchiveDisabled) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Settlement archive is disabled"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve settlements: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"settlements": records,
		"total":       total,
		"page":        page,
		"limit":       limit,
	})
}

// GetFaults handles GET /faults
func (h *PotHandler) GetFaults(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	openOnly := c.Query("open") == "true"

	var potID *uint64
	if raw := c.Query("potId"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pot id"})
			return
		}
		potID = &id
	}

	faults, err := h.potService.ListFaults(c.Request.Context(), potID, openOnly, page, limit)
	if err != nil {
		if errors.Is(err, services.ErrArchiveDisabled) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Settlement archive is disabled"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve faults: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, faults)
}
