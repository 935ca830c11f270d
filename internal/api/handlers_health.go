package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handleHealth reports liveness and basic store reachability.
func (s *Server) handleHealth(c *gin.Context) {
	status := "ok"
	code := http.StatusOK

	if _, err := s.store.ListCredentials(); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":         status,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"version":        s.cfg.Version,
	})
}
