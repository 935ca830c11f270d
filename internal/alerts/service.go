// Package alerts turns credential and pipeline failures into operator
// notifications, with dedup and rate limiting so a flapping mailbox
// does not flood the channel.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/leadloft/leadloft/internal/config"
	"github.com/leadloft/leadloft/internal/logging"
	"github.com/leadloft/leadloft/internal/telegram"
)

// Service fans alerts out to the configured notifier.
type Service struct {
	notifier telegram.Notifier
	dedup    *deduper
	throttle *throttle
	logger   *logging.Logger
	enabled  bool
}

// NewService creates the alert service. A nil notifier disables
// sending but keeps the call sites cheap.
func NewService(cfg config.AlertsConfig, notifier telegram.Notifier, logger *logging.Logger) *Service {
	return &Service{
		notifier: notifier,
		dedup:    newDeduper(cfg.DedupWindow),
		throttle: newThrottle(cfg.RateLimitPerMinute),
		logger:   logger,
		enabled:  cfg.Enabled && notifier != nil,
	}
}

// Send delivers one alert, subject to dedup and throttling.
func (s *Service) Send(ctx context.Context, alert Alert) {
	if !s.enabled {
		return
	}
	now := alert.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	if !s.dedup.shouldSend(alert.Key, now) {
		return
	}
	if !s.throttle.allow(now) {
		s.logger.WarnWithContext(ctx, "alert throttled", "key", alert.Key)
		return
	}

	if err := s.notifier.Notify(ctx, formatAlert(alert)); err != nil {
		s.logger.ErrorWithContext(ctx, "alert delivery failed",
			"key", alert.Key,
			"error", err.Error())
	}
}

// CredentialBroken reports a mailbox whose refresh token no longer
// works. This needs a human: only the agent can re-consent.
func (s *Service) CredentialBroken(ctx context.Context, agentID, detail string) {
	s.Send(ctx, Alert{
		Key:      "credential_broken:" + agentID,
		Severity: SeverityCritical,
		Title:    "Mailbox connection broken",
		Message:  fmt.Sprintf("Agent %s can no longer authenticate. %s", agentID, detail),
		AgentID:  agentID,
	})
}

// WatchRenewalFailed reports a push subscription that could not be
// re-armed before lapsing.
func (s *Service) WatchRenewalFailed(ctx context.Context, agentID, detail string) {
	s.Send(ctx, Alert{
		Key:      "watch_renewal:" + agentID,
		Severity: SeverityWarning,
		Title:    "Watch renewal failed",
		Message:  fmt.Sprintf("Push subscription for agent %s is about to lapse. %s", agentID, detail),
		AgentID:  agentID,
	})
}

func formatAlert(alert Alert) string {
	icon := "ℹ️"
	switch alert.Severity {
	case SeverityWarning:
		icon = "⚠️"
	case SeverityCritical:
		icon = "🚨"
	}
	return fmt.Sprintf("%s *%s*\n%s", icon, alert.Title, alert.Message)
}
