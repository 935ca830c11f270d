package api

import (
	stderrors "errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/leadloft/leadloft/internal/errors"
	"github.com/leadloft/leadloft/internal/models"
	"github.com/leadloft/leadloft/internal/oauth"
)

// handleAuthStart begins the consent flow for an agent. The caller is
// sent to the provider's consent screen with the agent identity folded
// into the state parameter; API clients asking for JSON get the URL in
// the body instead of a redirect.
func (s *Server) handleAuthStart(c *gin.Context) {
	agentID := c.Query("agent_id")
	if agentID == "" {
		authErr := &errors.ErrNotAuthenticated{}
		c.JSON(http.StatusUnauthorized, gin.H{"error": authErr.Error()})
		return
	}

	state, err := oauth.EncodeState(agentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create state"})
		return
	}
	consentURL := s.flow.ConsentURL(state)

	s.logger.InfoWithContext(c.Request.Context(), "consent flow started", "agent_id", agentID)
	if strings.Contains(c.GetHeader("Accept"), "application/json") {
		c.JSON(http.StatusOK, gin.H{"auth_url": consentURL})
		return
	}
	c.Redirect(http.StatusFound, consentURL)
}

// handleAuthCallback completes the consent flow: it exchanges the code,
// resolves the mailbox identity, persists the credential and arms the
// push subscription. The browser always ends up on the connect page,
// carrying either the connected address or an error code.
func (s *Server) handleAuthCallback(c *gin.Context) {
	ctx := c.Request.Context()

	if providerErr := c.Query("error"); providerErr != "" {
		s.logger.WarnWithContext(ctx, "consent denied", "provider_error", providerErr)
		s.redirectConnect(c, url.Values{"error": {"consent_denied"}})
		return
	}

	rawState := c.Query("state")
	code := c.Query("code")
	if code == "" || rawState == "" {
		missing := &errors.ErrMissingParameter{Name: "code"}
		if rawState == "" {
			missing = &errors.ErrMissingParameter{Name: "state"}
		}
		s.logger.WarnWithContext(ctx, "callback rejected", "error", missing.Error())
		s.redirectConnect(c, url.Values{"error": {"missing_parameters"}})
		return
	}

	state, err := oauth.DecodeState(rawState)
	if err != nil {
		s.redirectConnect(c, url.Values{"error": {"invalid_state"}})
		return
	}

	tok, err := s.flow.Exchange(ctx, code)
	if err != nil {
		s.metrics.RecordTokenExchange("failure")
		s.logger.ErrorWithContext(ctx, "code exchange failed",
			"agent_id", state.AgentID,
			"error", err.Error())
		errCode := "token_failed"
		var incomplete *errors.ErrIncompleteTokenResponse
		if stderrors.As(err, &incomplete) {
			errCode = "incomplete_token"
		}
		s.redirectConnect(c, url.Values{"error": {errCode}})
		return
	}
	s.metrics.RecordTokenExchange("success")

	cred := &models.Credential{
		AgentID:      state.AgentID,
		Provider:     models.ProviderGoogle,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Scope:        strings.Join(s.flow.Scopes(), " "),
		Expiry:       tok.Expiry,
	}

	client, err := s.gmailClient(ctx, cred)
	if err != nil {
		s.redirectConnect(c, url.Values{"error": {"profile_failed"}})
		return
	}
	email, _, err := client.Profile(ctx)
	if err != nil {
		s.logger.ErrorWithContext(ctx, "profile lookup failed",
			"agent_id", state.AgentID,
			"error", err.Error())
		s.redirectConnect(c, url.Values{"error": {"profile_failed"}})
		return
	}
	cred.ConnectedEmail = email

	if err := s.store.UpsertCredential(cred); err != nil {
		var conflict *errors.ErrIdentityConflict
		if stderrors.As(err, &conflict) {
			s.logger.WarnWithContext(ctx, "mailbox already connected to another agent",
				"agent_id", state.AgentID,
				"email", email)
			s.redirectConnect(c, url.Values{"error": {"identity_conflict"}})
			return
		}
		s.redirectConnect(c, url.Values{"error": {"store_failed"}})
		return
	}

	s.metrics.SetCredentialHealth(state.AgentID, models.ProviderGoogle, true)
	s.logger.InfoWithContext(ctx, "mailbox connected",
		"agent_id", state.AgentID,
		"email", email)

	// Arm the push subscription right away so the mailbox starts
	// flowing without a separate admin call. Connection still counts
	// if this fails; the health checker retries later.
	if s.cfg.Google.PubSubTopic != "" {
		if err := s.armWatch(c, cred); err != nil {
			s.logger.WarnWithContext(ctx, "could not arm watch after connect",
				"agent_id", state.AgentID,
				"error", err.Error())
		}
	}

	// Status flags only; the address itself stays out of the URL.
	s.redirectConnect(c, url.Values{"connected": {"1"}})
}

// redirectConnect sends the browser to the configured connect page.
func (s *Server) redirectConnect(c *gin.Context, params url.Values) {
	target := s.cfg.Google.ConnectRedirect
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	c.Redirect(http.StatusFound, target)
}
