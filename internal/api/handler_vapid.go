package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetVAPIDPublicKey gives browsers what they need to subscribe to vacancy
// notifications for this machine.
func (h *Handler) GetVAPIDPublicKey(c *gin.Context) {
	if h.webpush == nil || h.webpush.VAPIDPublicKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vacancy notifications are disabled"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"public_key":   h.webpush.VAPIDPublicKey,
		"machine_name": h.cfg.Plugin.MachineName,
	})
}
