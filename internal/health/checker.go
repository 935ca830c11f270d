// Package health keeps connected mailboxes usable in the background:
// it refreshes tokens close to expiry and re-arms push subscriptions
// before they lapse.
package health

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/leadloft/leadloft/internal/alerts"
	"github.com/leadloft/leadloft/internal/config"
	"github.com/leadloft/leadloft/internal/errors"
	"github.com/leadloft/leadloft/internal/gmail"
	"github.com/leadloft/leadloft/internal/logging"
	"github.com/leadloft/leadloft/internal/metrics"
	"github.com/leadloft/leadloft/internal/models"
	"github.com/leadloft/leadloft/internal/store"
	"github.com/leadloft/leadloft/internal/token"
)

// Checker periodically sweeps all credentials.
type Checker struct {
	store       store.Store
	tokens      *token.Manager
	alerts      *alerts.Service
	google      config.GoogleConfig
	logger      *logging.Logger
	metrics     *metrics.Metrics
	interval    time.Duration
	renewBefore time.Duration
}

// NewChecker wires the credential sweep.
func NewChecker(
	s store.Store,
	tokens *token.Manager,
	alertSvc *alerts.Service,
	google config.GoogleConfig,
	healthCfg config.HealthConfig,
	logger *logging.Logger,
	m *metrics.Metrics,
) *Checker {
	return &Checker{
		store:       s,
		tokens:      tokens,
		alerts:      alertSvc,
		google:      google,
		logger:      logger,
		metrics:     m,
		interval:    healthCfg.CheckInterval,
		renewBefore: healthCfg.RenewBefore,
	}
}

// Run sweeps on the configured interval until the context is canceled.
// The first sweep happens immediately so a restart repairs state
// without waiting a full interval.
func (c *Checker) Run(ctx context.Context) {
	c.logger.Info("credential checker started",
		"interval", c.interval.String(),
		"renew_before", c.renewBefore.String())

	c.CheckOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("credential checker stopped")
			return
		case <-ticker.C:
			c.CheckOnce(ctx)
		}
	}
}

// CheckOnce sweeps every credential a single time.
func (c *Checker) CheckOnce(ctx context.Context) {
	creds, err := c.store.ListCredentials()
	if err != nil {
		c.logger.Error("credential sweep failed", "error", err.Error())
		return
	}

	for _, cred := range creds {
		if ctx.Err() != nil {
			return
		}
		if !cred.Connected() {
			continue
		}
		c.checkCredential(ctx, cred)
	}
}

func (c *Checker) checkCredential(ctx context.Context, cred *models.Credential) {
	if token.Expired(cred.Expiry, time.Now()) {
		if _, err := c.tokens.EnsureFresh(ctx, cred); err != nil {
			c.reportBroken(ctx, cred, err)
			return
		}
	}

	if c.needsWatchRenewal(cred) {
		if err := c.renewWatch(ctx, cred); err != nil {
			c.logger.ErrorWithContext(ctx, "watch renewal failed",
				"agent_id", cred.AgentID,
				"error", err.Error())
			if c.alerts != nil {
				c.alerts.WatchRenewalFailed(ctx, cred.AgentID, err.Error())
			}
			if c.metrics != nil {
				c.metrics.RecordWatchOperation("renew", "failure")
			}
			return
		}
		if c.metrics != nil {
			c.metrics.RecordWatchOperation("renew", "success")
		}
		c.logger.InfoWithContext(ctx, "watch renewed", "agent_id", cred.AgentID)
	}

	if c.metrics != nil {
		c.metrics.SetCredentialHealth(cred.AgentID, cred.Provider, true)
	}
}

// needsWatchRenewal reports whether the push subscription lapses within
// the renewal horizon. Gmail watches expire after seven days no matter
// what, so they have to be re-armed on a schedule.
func (c *Checker) needsWatchRenewal(cred *models.Credential) bool {
	if c.google.PubSubTopic == "" || !cred.Watching() {
		return false
	}
	return time.Until(cred.WatchExpiration) < c.renewBefore
}

func (c *Checker) renewWatch(ctx context.Context, cred *models.Credential) error {
	accessToken, err := c.tokens.EnsureFresh(ctx, cred)
	if err != nil {
		return err
	}
	client, err := gmail.NewClient(ctx, accessToken, c.google)
	if err != nil {
		return err
	}

	baseline, expiration, err := client.Watch(ctx, c.google.PubSubTopic)
	if err != nil {
		return err
	}

	cursor := cred.HistoryID
	if cursor == "" {
		cursor = baseline
	}
	return c.store.UpdateWatch(cred.AgentID, cred.Provider, cursor, expiration)
}

func (c *Checker) reportBroken(ctx context.Context, cred *models.Credential, err error) {
	if c.metrics != nil {
		c.metrics.SetCredentialHealth(cred.AgentID, cred.Provider, false)
	}
	c.logger.ErrorWithContext(ctx, "credential unhealthy",
		"agent_id", cred.AgentID,
		"error", err.Error())

	if c.alerts == nil {
		return
	}
	var refreshErr *errors.ErrProviderRefresh
	var missing *errors.ErrRefreshTokenMissing
	if stderrors.As(err, &refreshErr) || stderrors.As(err, &missing) {
		c.alerts.CredentialBroken(ctx, cred.AgentID, err.Error())
	}
}
