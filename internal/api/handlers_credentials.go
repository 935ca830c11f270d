package api

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leadloft/leadloft/internal/errors"
	"github.com/leadloft/leadloft/internal/models"
)

// handleCredentialGet returns a credential with its secrets masked.
func (s *Server) handleCredentialGet(c *gin.Context) {
	agentID := c.Param("agent_id")

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
		"provider":         cred.Provider,
		"client_id":        s.cfg.Google.ClientID,
		"connected":        cred.Connected(),
		"connected_email":  cred.ConnectedEmail,
		"access_token":     MaskToken(cred.AccessToken),
		"refresh_token":    MaskToken(cred.RefreshToken),
		"scope":            cred.Scope,
		"token_expiry":     cred.Expiry,
		"history_id":       cred.HistoryID,
		"watch_expiration": cred.WatchExpiration,
		"created_at":       cred.CreatedAt,
		"updated_at":       cred.UpdatedAt,
	})
}

// handleCredentialDelete disconnects a mailbox and removes the
// credential. The push subscription is stopped best-effort first so
// the provider does not keep publishing for a mailbox we no longer
// track.
func (s *Server) handleCredentialDelete(c *gin.Context) {
	agentID := c.Param("agent_id")
	ctx := c.Request.Context()

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

	if cred.Connected() && cred.Watching() {
		if client, err := s.gmailClient(ctx, cred); err == nil {
			if err := client.Stop(ctx); err != nil {
				s.logger.WarnWithContext(ctx, "could not stop watch before delete",
					"agent_id", agentID,
					"error", err.Error())
			}
		}
	}

	if err := s.store.DeleteCredential(agentID, models.ProviderGoogle); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}

	s.logger.InfoWithContext(ctx, "credential deleted", "agent_id", agentID)
	c.JSON(http.StatusOK, gin.H{"agent_id": agentID, "deleted": true})
}
