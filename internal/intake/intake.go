// Package intake turns fetched inbox messages into CRM leads and lead
// messages, and fans them out to downstream consumers.
package intake

import (
	"context"
	stderrors "errors"

	"github.com/leadloft/leadloft/internal/logging"
	"github.com/leadloft/leadloft/internal/models"
)

// Sink receives inbound emails attributed to an agent.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string
	// Deliver processes one inbound email for the given agent.
	Deliver(ctx context.Context, agentID string, email *models.InboundEmail) error
}

// Fanout delivers each email to every sink. All sinks are attempted
// even when one fails, so a broken webhook does not lose the lead.
type Fanout struct {
	sinks []Sink
}

// NewFanout composes sinks into one.
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// Name implements Sink.
func (f *Fanout) Name() string {
	return "fanout"
}

// Deliver implements Sink.
func (f *Fanout) Deliver(ctx context.Context, agentID string, email *models.InboundEmail) error {
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.Deliver(ctx, agentID, email); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

var _ Sink = (*Fanout)(nil)

// BestEffort wraps a sink whose failures must not hold back the
// pipeline. Errors are logged and swallowed, so a relay outage never
// pins the history cursor; only the durable store decides whether a
// batch counts as delivered.
type BestEffort struct {
	sink   Sink
	logger *logging.Logger
}

// NewBestEffort wraps sink with log-and-continue error handling.
func NewBestEffort(sink Sink, logger *logging.Logger) *BestEffort {
	return &BestEffort{sink: sink, logger: logger}
}

// Name implements Sink.
func (b *BestEffort) Name() string {
	return b.sink.Name()
}

// Deliver implements Sink. It always returns nil.
func (b *BestEffort) Deliver(ctx context.Context, agentID string, email *models.InboundEmail) error {
	if err := b.sink.Deliver(ctx, agentID, email); err != nil {
		b.logger.WarnWithContext(ctx, "best-effort sink failed",
			"sink", b.sink.Name(),
			"agent_id", agentID,
			"message_id", email.ProviderMessageID,
			"error", err.Error())
	}
	return nil
}

var _ Sink = (*BestEffort)(nil)
