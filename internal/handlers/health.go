package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/stream-relay/internal/models"
)

// health reports liveness plus a read-only snapshot of both relays.
func (s *Server) health(c *gin.Context) {
	now := time.Now()
	c.JSON(http.StatusOK, models.HealthResponse{
		Status:    "healthy",
		Timestamp: models.FormatTimestamp(now),
		Uptime:    now.Sub(s.started).Seconds(),
		Version:   s.version,
		RTC:       s.signaling.Stats(),
		Chat:      s.chat.Stats(),
	})
}
