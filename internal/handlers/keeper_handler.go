package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chainpot/keeper/internal/keeper"
	"github.com/chainpot/keeper/internal/services"
)

// KeeperHandler handles settlement loop control HTTP requests
type KeeperHandler struct {
	keeperService services.KeeperService
}

// NewKeeperHandler creates a new KeeperHandler
func NewKeeperHandler(keeperService services.KeeperService) *KeeperHandler {
	return &KeeperHandler{
		keeperService: keeperService,
	}
}

// GetStatus handles GET /keeper/status
func (h *KeeperHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.keeperService.Info(c.Request.Context()))
}

// Start handles POST /keeper/start
func (h *KeeperHandler) Start(c *gin.Context) {
	if err := h.keeperService.Start(); err != nil {
		if errors.Is(err, keeper.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "Keeper is already running"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start keeper: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Keeper started"})
}

// Stop handles POST /keeper/stop
func (h *KeeperHandler) Stop(c *gin.Context) {
	h.keeperService.Stop()
	c.JSON(http.StatusOK, gin.H{"message": "Keeper stopped"})
}

// RefreshDirectory handles POST /keeper/refresh-directory
func (h *KeeperHandler) RefreshDirectory(c *gin.Context) {
	added, err := h.keeperService.RefreshDirectory(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to refresh directory: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Directory refreshed", "added": added})
}
