package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Health reports liveness and the number of connected devices.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"timestamp":         time.Now().UTC(),
		"connected_devices": h.registry.Len(),
		"pending_acks":      h.deployments.Pending(),
	})
}
