package intake

import (
	"context"

	"github.com/google/uuid"

	"github.com/leadloft/leadloft/internal/errors"
	"github.com/leadloft/leadloft/internal/logging"
	"github.com/leadloft/leadloft/internal/metrics"
	"github.com/leadloft/leadloft/internal/models"
	"github.com/leadloft/leadloft/internal/store"
)

// StoreSink persists inbound emails as leads and lead messages.
// A sender emails the same agent twice, the second message lands on the
// existing lead. A message already seen by provider ID is dropped.
type StoreSink struct {
	store   store.Store
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewStoreSink creates a sink writing to the given store.
func NewStoreSink(s store.Store, logger *logging.Logger, m *metrics.Metrics) *StoreSink {
	return &StoreSink{store: s, logger: logger, metrics: m}
}

// Name implements Sink.
func (s *StoreSink) Name() string {
	return "store"
}

// Deliver implements Sink.
func (s *StoreSink) Deliver(ctx context.Context, agentID string, email *models.InboundEmail) error {
	seen, err := s.store.HasLeadMessage(email.ProviderMessageID)
	if err != nil {
		return s.fail(ctx, "check message", err)
	}
	if seen {
		s.logger.DebugWithContext(ctx, "duplicate message skipped",
			"agent_id", agentID,
			"provider_message_id", email.ProviderMessageID)
		return nil
	}

	lead, err := s.store.FindLeadByEmail(agentID, email.FromEmail)
	if err != nil {
		return s.fail(ctx, "find lead", err)
	}
	if lead == nil {
		lead = &models.Lead{
			ID:      uuid.New().String(),
			AgentID: agentID,
			Name:    leadName(email),
			Email:   email.FromEmail,
			Source:  "email",
			Status:  "new",
		}
		if err := s.store.InsertLead(lead); err != nil {
			return s.fail(ctx, "insert lead", err)
		}
		s.logger.InfoWithContext(ctx, "lead created",
			"agent_id", agentID,
			"lead_id", lead.ID,
			"email", lead.Email)
	}

	msg := &models.LeadMessage{
		ID:                uuid.New().String(),
		LeadID:            lead.ID,
		AgentID:           agentID,
		Direction:         "inbound",
		Channel:           "email",
		Subject:           email.Subject,
		Body:              email.Body,
		ProviderMessageID: email.ProviderMessageID,
		ReceivedAt:        email.ReceivedAt,
	}
	if err := s.store.InsertLeadMessage(msg); err != nil {
		return s.fail(ctx, "insert message", err)
	}

	if s.metrics != nil {
		s.metrics.RecordIntakeDelivery(s.Name(), "success")
	}
	return nil
}

func (s *StoreSink) fail(ctx context.Context, operation string, err error) error {
	if s.metrics != nil {
		s.metrics.RecordIntakeDelivery(s.Name(), "failure")
	}
	return &errors.ErrStoreUnavailable{Operation: operation, Err: err}
}

// leadName picks a display name for a new lead. Senders without a
// display name get the subject, and failing that the address itself.
func leadName(email *models.InboundEmail) string {
	if email.FromName != "" {
		return email.FromName
	}
	if email.Subject != "" {
		return email.Subject
	}
	return email.FromEmail
}

var _ Sink = (*StoreSink)(nil)
