package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leadloft/leadloft/internal/processor"
)

// handlePush receives Pub/Sub push deliveries. The endpoint always
// acknowledges: returning an error here would only make Pub/Sub retry
// a notification we cannot use, while a usable one is recovered by the
// next delivery anyway.
func (s *Server) handlePush(c *gin.Context) {
	var envelope processor.Envelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		s.logger.WarnWithContext(c.Request.Context(), "malformed push envelope", "error", err.Error())
		c.JSON(http.StatusOK, gin.H{"outcome": "dropped", "reason": "malformed_envelope"})
		return
	}

	result := s.processor.HandlePush(c.Request.Context(), &envelope)
	if result.Processed {
		c.JSON(http.StatusOK, gin.H{"outcome": "processed", "fetched": result.Fetched})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": "dropped", "reason": result.Reason})
}
