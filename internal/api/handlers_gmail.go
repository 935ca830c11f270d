package api

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leadloft/leadloft/internal/errors"
	"github.com/leadloft/leadloft/internal/models"
)

// agentRequest identifies the agent an admin operation targets.
type agentRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
}

// handleWatchStart arms or re-arms the push subscription for an agent's
// mailbox.
func (s *Server) handleWatchStart(c *gin.Context) {
	var req agentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent_id is required"})
		return
	}
	ctx := c.Request.Context()

	cred, ok := s.loadConnectedCredential(c, req.AgentID)
	if !ok {
		return
	}

	if err := s.armWatch(c, cred); err != nil {
		s.metrics.RecordWatchOperation("watch", "failure")
		s.logger.ErrorWithContext(ctx, "watch start failed",
			"agent_id", req.AgentID,
			"error", err.Error())
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not start watch"})
		return
	}
	s.metrics.RecordWatchOperation("watch", "success")

	cred, err := s.store.GetCredential(req.AgentID, models.ProviderGoogle)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"agent_id":         cred.AgentID,
		"history_id":       cred.HistoryID,
		"watch_expiration": cred.WatchExpiration,
	})
}

// armWatch calls users.watch and persists the subscription. An already
// advanced cursor is never moved backwards by the watch baseline.
func (s *Server) armWatch(c *gin.Context, cred *models.Credential) error {
	ctx := c.Request.Context()

	client, err := s.gmailClient(ctx, cred)
	if err != nil {
		return err
	}
	baseline, expiration, err := client.Watch(ctx, s.cfg.Google.PubSubTopic)
	if err != nil {
		return err
	}

	cursor := cred.HistoryID
	if cursor == "" {
		cursor = baseline
	}
	return s.store.UpdateWatch(cred.AgentID, cred.Provider, cursor, expiration)
}

// handleWatchStop cancels the push subscription and disconnects the
// mailbox. The remote stop is best effort; local state is always
// cleared so intake halts even when the provider is unreachable.
func (s *Server) handleWatchStop(c *gin.Context) {
	var req agentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent_id is required"})
		return
	}
	ctx := c.Request.Context()

	cred, ok := s.loadConnectedCredential(c, req.AgentID)
	if !ok {
		return
	}

	remoteStopped := false
	if client, err := s.gmailClient(ctx, cred); err != nil {
		s.logger.WarnWithContext(ctx, "cannot authenticate mailbox for stop",
			"agent_id", req.AgentID,
			"error", err.Error())
	} else if err := client.Stop(ctx); err != nil {
		s.metrics.RecordWatchOperation("stop", "failure")
		s.logger.WarnWithContext(ctx, "remote stop failed",
			"agent_id", req.AgentID,
			"error", err.Error())
	} else {
		s.metrics.RecordWatchOperation("stop", "success")
		remoteStopped = true
	}

	if err := s.store.ClearConnection(req.AgentID, models.ProviderGoogle); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}

	s.logger.InfoWithContext(ctx, "mailbox disconnected",
		"agent_id", req.AgentID,
		"remote_stopped", remoteStopped)
	c.JSON(http.StatusOK, gin.H{
		"agent_id":       req.AgentID,
		"stopped":        true,
		"remote_stopped": remoteStopped,
	})
}

// handleWatchStatus reports the connection and subscription state.
func (s *Server) handleWatchStatus(c *gin.Context) {
	agentID := c.Query("agent_id")
	if agentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent_id is required"})
		return
	}

	cred, err := s.store.GetCredential(agentID, models.ProviderGoogle)
	if err != nil {
		var notFound *errors.ErrCredentialNotFound
		if stderrors.As(err, &notFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "credential not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"agent_id":         cred.AgentID,
		"connected":        cred.Connected(),
		"connected_email":  cred.ConnectedEmail,
		"watching":         cred.Watching(),
		"history_id":       cred.HistoryID,
		"watch_expiration": cred.WatchExpiration,
		"token_expiry":     cred.Expiry,
	})
}

// handleForceRefresh refreshes an agent's access token regardless of
// its recorded expiry.
func (s *Server) handleForceRefresh(c *gin.Context) {
	var req agentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent_id is required"})
		return
	}
	ctx := c.Request.Context()

	cred, ok := s.loadConnectedCredential(c, req.AgentID)
	if !ok {
		return
	}

	if _, err := s.tokens.ForceRefresh(ctx, cred); err != nil {
		var refreshErr *errors.ErrProviderRefresh
		if stderrors.As(err, &refreshErr) {
			s.metrics.SetCredentialHealth(req.AgentID, models.ProviderGoogle, false)
			// The provider's raw error body is the only clue to why a
			// grant died; pass it through for diagnostics.
			c.JSON(http.StatusBadGateway, gin.H{
				"error":           "provider refused the refresh",
				"provider_status": refreshErr.Status,
				"detail":          refreshErr.Body,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
		return
	}

	s.metrics.SetCredentialHealth(req.AgentID, models.ProviderGoogle, true)
	c.JSON(http.StatusOK, gin.H{
		"agent_id":     req.AgentID,
		"token_expiry": cred.Expiry,
	})
}

// loadConnectedCredential fetches a credential and writes the error
// response itself when the agent is unknown or not connected.
func (s *Server) loadConnectedCredential(c *gin.Context, agentID string) (*models.Credential, bool) {
	cred, err := s.store.GetCredential(agentID, models.ProviderGoogle)
	if err != nil {
		var notFound *errors.ErrCredentialNotFound
		if stderrors.As(err, &notFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "credential not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return nil, false
	}
	if !cred.Connected() {
		c.JSON(http.StatusConflict, gin.H{"error": "mailbox not connected"})
		return nil, false
	}
	return cred, true
}
