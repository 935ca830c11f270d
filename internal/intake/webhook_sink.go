package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/leadloft/leadloft/internal/logging"
	"github.com/leadloft/leadloft/internal/metrics"
	"github.com/leadloft/leadloft/internal/models"
)

// WebhookSink forwards inbound emails to an external HTTP consumer.
type WebhookSink struct {
	url     string
	client  *http.Client
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// webhookPayload is the body posted to the consumer.
type webhookPayload struct {
	AgentID string               `json:"agent_id"`
	Email   *models.InboundEmail `json:"email"`
}

// NewWebhookSink creates a sink posting to the given URL.
func NewWebhookSink(url string, timeout time.Duration, logger *logging.Logger, m *metrics.Metrics) *WebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		metrics: m,
	}
}

// Name implements Sink.
func (s *WebhookSink) Name() string {
	return "webhook"
}

// Deliver implements Sink.
func (s *WebhookSink) Deliver(ctx context.Context, agentID string, email *models.InboundEmail) error {
	body, err := json.Marshal(webhookPayload{AgentID: agentID, Email: email})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.record("failure")
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.record("failure")
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	s.record("success")
	s.logger.DebugWithContext(ctx, "webhook delivered",
		"agent_id", agentID,
		"provider_message_id", email.ProviderMessageID)
	return nil
}

func (s *WebhookSink) record(status string) {
	if s.metrics != nil {
		s.metrics.RecordIntakeDelivery(s.Name(), status)
	}
}

var _ Sink = (*WebhookSink)(nil)
