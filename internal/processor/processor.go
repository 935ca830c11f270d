// Package processor turns Gmail push notifications into fetched
// messages. A notification only says "something changed"; the actual
// messages come from replaying history since the stored cursor.
package processor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"sync"

	"github.com/leadloft/leadloft/internal/config"
	"github.com/leadloft/leadloft/internal/errors"
	"github.com/leadloft/leadloft/internal/gmail"
	"github.com/leadloft/leadloft/internal/intake"
	"github.com/leadloft/leadloft/internal/logging"
	"github.com/leadloft/leadloft/internal/metrics"
	"github.com/leadloft/leadloft/internal/models"
	"github.com/leadloft/leadloft/internal/store"
	"github.com/leadloft/leadloft/internal/token"
)

// Envelope is the Pub/Sub push delivery wrapper.
type Envelope struct {
	Message      EnvelopeMessage `json:"message"`
	Subscription string          `json:"subscription"`
}

// EnvelopeMessage carries the base64-encoded notification payload.
type EnvelopeMessage struct {
	Data      string `json:"data"`
	MessageID string `json:"messageId"`
}

// Drop reasons reported in results and metrics.
const (
	ReasonHandshake      = "validation_handshake"
	ReasonInvalidPayload = "invalid_payload"
	ReasonUnknownMailbox = "unknown_mailbox"
	ReasonNotConnected   = "not_connected"
	ReasonAuthFailed     = "auth_failed"
	ReasonFetchFailed    = "fetch_failed"
	ReasonDeliveryFailed = "delivery_failed"
	ReasonStoreFailed    = "store_failed"
	ReasonCursorAnchored = "cursor_anchored"
)

// Result describes what happened to one push notification.
type Result struct {
	Processed bool
	Reason    string
	Fetched   int
}

func dropped(reason string) Result {
	return Result{Reason: reason}
}

func processed(fetched int) Result {
	return Result{Processed: true, Fetched: fetched}
}

// Processor handles push notifications end to end. Notifications for
// the same mailbox are serialized so two overlapping deliveries cannot
// double-fetch or race the cursor.
type Processor struct {
	store   store.Store
	tokens  *token.Manager
	sink    intake.Sink
	google  config.GoogleConfig
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewProcessor wires the push pipeline.
func NewProcessor(s store.Store, tokens *token.Manager, sink intake.Sink, google config.GoogleConfig, logger *logging.Logger, m *metrics.Metrics) *Processor {
	return &Processor{
		store:   s,
		tokens:  tokens,
		sink:    sink,
		google:  google,
		logger:  logger,
		metrics: m,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (p *Processor) mailboxLock(email string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()

	lock, ok := p.locks[email]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[email] = lock
	}
	return lock
}

// HandlePush processes one Pub/Sub push delivery. It never returns an
// error: push endpoints must acknowledge everything, and a failed
// notification is recovered by the next one since the cursor only
// advances after a complete batch.
func (p *Processor) HandlePush(ctx context.Context, envelope *Envelope) Result {
	result := p.handle(ctx, envelope)

	outcome := result.Reason
	if result.Processed {
		outcome = "processed"
	}
	if p.metrics != nil {
		p.metrics.RecordPushNotification(outcome)
	}
	p.logger.InfoWithContext(ctx, "push notification handled",
		"outcome", outcome,
		"fetched", result.Fetched,
		"pubsub_message_id", envelope.Message.MessageID)
	return result
}

func (p *Processor) handle(ctx context.Context, envelope *Envelope) Result {
	// Subscription validation pings carry no payload.
	if envelope.Message.Data == "" {
		return dropped(ReasonHandshake)
	}

	notification, err := decodeNotification(envelope.Message.Data)
	if err != nil {
		p.logger.WarnWithContext(ctx, "undecodable push payload", "error", err.Error())
		return dropped(ReasonInvalidPayload)
	}

	cred, err := p.store.GetCredentialByEmail(notification.EmailAddress, models.ProviderGoogle)
	if err != nil {
		var notFound *errors.ErrCredentialNotFound
		if stderrors.As(err, &notFound) {
			return dropped(ReasonUnknownMailbox)
		}
		return dropped(ReasonStoreFailed)
	}
	if !cred.Connected() {
		return dropped(ReasonNotConnected)
	}

	lock := p.mailboxLock(notification.EmailAddress)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; a previous delivery may have moved the
	// cursor while we waited.
	cred, err = p.store.GetCredential(cred.AgentID, cred.Provider)
	if err != nil {
		return dropped(ReasonStoreFailed)
	}

	// First notification for this mailbox anchors the cursor without
	// fetching. Everything before the watch started is not a push.
	if cred.HistoryID == "" {
		if err := p.store.UpdateCursor(cred.AgentID, cred.Provider, notification.HistoryID); err != nil {
			return dropped(ReasonStoreFailed)
		}
		return dropped(ReasonCursorAnchored)
	}

	return p.fetchAndEmit(ctx, cred, notification)
}

// fetchAndEmit replays history since the stored cursor and pushes each
// new message through the sink. One forced token refresh is attempted
// when the provider rejects the stored access token.
func (p *Processor) fetchAndEmit(ctx context.Context, cred *models.Credential, notification *models.PushNotification) Result {
	accessToken, err := p.tokens.EnsureFresh(ctx, cred)
	if err != nil {
		return p.authFailure(ctx, cred, err)
	}

	// One forced refresh covers the whole notification, whether the
	// provider rejects the token at the list or the fetch stage.
	refreshed := false

	ids, newCursor, err := p.listNewMessages(ctx, accessToken, cred, notification)
	if err != nil && gmail.IsAuthError(err) {
		accessToken, err = p.tokens.ForceRefresh(ctx, cred)
		if err != nil {
			return p.authFailure(ctx, cred, err)
		}
		refreshed = true
		ids, newCursor, err = p.listNewMessages(ctx, accessToken, cred, notification)
	}
	if err != nil {
		p.logger.ErrorWithContext(ctx, "history fetch failed",
			"agent_id", cred.AgentID,
			"error", err.Error())
		return dropped(ReasonFetchFailed)
	}

	client, err := gmail.NewClient(ctx, accessToken, p.google)
	if err != nil {
		return dropped(ReasonFetchFailed)
	}

	fetched := 0
	for _, id := range ids {
		msg, err := client.GetMessage(ctx, id)
		if err != nil && gmail.IsAuthError(err) && !refreshed {
			accessToken, err = p.tokens.ForceRefresh(ctx, cred)
			if err != nil {
				return p.authFailure(ctx, cred, err)
			}
			refreshed = true
			client, err = gmail.NewClient(ctx, accessToken, p.google)
			if err != nil {
				return dropped(ReasonFetchFailed)
			}
			msg, err = client.GetMessage(ctx, id)
		}
		if err != nil {
			p.logger.ErrorWithContext(ctx, "message fetch failed",
				"agent_id", cred.AgentID,
				"message_id", id,
				"error", err.Error())
			return dropped(ReasonFetchFailed)
		}
		email := gmail.ParseMessage(msg)
		if err := p.sink.Deliver(ctx, cred.AgentID, email); err != nil {
			p.logger.ErrorWithContext(ctx, "intake delivery failed",
				"agent_id", cred.AgentID,
				"message_id", id,
				"error", err.Error())
			return dropped(ReasonDeliveryFailed)
		}
		if p.metrics != nil {
			p.metrics.RecordMessageFetched()
		}
		fetched++
	}

	// The cursor moves only after the whole batch made it out. A crash
	// mid-batch re-fetches from the old cursor and dedup drops repeats.
	if newCursor != cred.HistoryID {
		if err := p.store.UpdateCursor(cred.AgentID, cred.Provider, newCursor); err != nil {
			return dropped(ReasonStoreFailed)
		}
	}
	return processed(fetched)
}

// listNewMessages lists message IDs added since the stored cursor. An
// expired cursor falls back to the single latest message and re-anchors
// at the notification's history ID.
func (p *Processor) listNewMessages(ctx context.Context, accessToken string, cred *models.Credential, notification *models.PushNotification) ([]string, string, error) {
	client, err := gmail.NewClient(ctx, accessToken, p.google)
	if err != nil {
		return nil, "", err
	}

	ids, newCursor, err := client.HistorySince(ctx, cred.HistoryID)
	if err == nil {
		return ids, newCursor, nil
	}
	if !stderrors.Is(err, gmail.ErrHistoryExpired) {
		return nil, "", err
	}

	p.logger.WarnWithContext(ctx, "history cursor expired, re-anchoring",
		"agent_id", cred.AgentID,
		"old_cursor", cred.HistoryID,
		"new_cursor", notification.HistoryID)

	latest, err := client.LatestMessageID(ctx)
	if err != nil {
		return nil, "", err
	}
	if latest == "" {
		return nil, notification.HistoryID, nil
	}
	return []string{latest}, notification.HistoryID, nil
}

func (p *Processor) authFailure(ctx context.Context, cred *models.Credential, err error) Result {
	authErr := &errors.ErrCannotAuthenticate{AgentID: cred.AgentID, Err: err}
	if p.metrics != nil {
		p.metrics.SetCredentialHealth(cred.AgentID, cred.Provider, false)
	}
	p.logger.ErrorWithContext(ctx, "cannot authenticate mailbox",
		"agent_id", cred.AgentID,
		"error", authErr.Error())
	return dropped(ReasonAuthFailed)
}

// decodeNotification unpacks the base64 JSON notification payload.
func decodeNotification(data string) (*models.PushNotification, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		raw, err = base64.URLEncoding.DecodeString(data)
		if err != nil {
			return nil, &errors.ErrInvalidNotification{Reason: "invalid base64 data"}
		}
	}

	// The provider sends historyId as a bare JSON number.
	var payload struct {
		EmailAddress string      `json:"emailAddress"`
		HistoryID    json.Number `json:"historyId"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &errors.ErrInvalidNotification{Reason: "invalid json payload"}
	}
	if payload.EmailAddress == "" {
		return nil, &errors.ErrInvalidNotification{Reason: "missing email address"}
	}
	if payload.HistoryID.String() == "" {
		return nil, &errors.ErrInvalidNotification{Reason: "missing history id"}
	}
	return &models.PushNotification{
		EmailAddress: payload.EmailAddress,
		HistoryID:    payload.HistoryID.String(),
	}, nil
}
