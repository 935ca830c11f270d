package processor

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadloft/leadloft/internal/config"
	"github.com/leadloft/leadloft/internal/logging"
	"github.com/leadloft/leadloft/internal/models"
	"github.com/leadloft/leadloft/internal/store"
	"github.com/leadloft/leadloft/internal/token"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.WithOutput(io.Discard))
}

// recordingSink remembers every delivered email and can be told to fail.
type recordingSink struct {
	delivered []*models.InboundEmail
	fail      bool
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Deliver(ctx context.Context, agentID string, email *models.InboundEmail) error {
	if r.fail {
		return fmt.Errorf("sink unavailable")
	}
	r.delivered = append(r.delivered, email)
	return nil
}

// fakeGmail is a minimal Gmail API backend. It serves history for the
// valid token, rejects the stale one, and hands out full messages. A
// historyOnlyToken is additionally accepted by the history endpoint,
// simulating a token revoked between the list and the fetch.
type fakeGmail struct {
	validToken       string
	historyOnlyToken string
	historyJSON      string
	history404       bool
	latestID         string
	messages         map[string]string
}

func (f *fakeGmail) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		authorized := tok == f.validToken
		if f.historyOnlyToken != "" && tok == f.historyOnlyToken && r.URL.Path == "/gmail/v1/users/me/history" {
			authorized = true
		}
		if !authorized {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"code":401,"message":"Invalid Credentials"}}`)
			return
		}
		switch {
		case r.URL.Path == "/gmail/v1/users/me/history":
			if f.history404 {
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, `{"error":{"code":404,"message":"Requested entity was not found."}}`)
				return
			}
			fmt.Fprint(w, f.historyJSON)
		case r.URL.Path == "/gmail/v1/users/me/messages":
			if f.latestID == "" {
				fmt.Fprint(w, `{}`)
				return
			}
			fmt.Fprintf(w, `{"messages":[{"id":"%s"}]}`, f.latestID)
		case strings.HasPrefix(r.URL.Path, "/gmail/v1/users/me/messages/"):
			id := strings.TrimPrefix(r.URL.Path, "/gmail/v1/users/me/messages/")
			body, ok := f.messages[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, `{"error":{"code":404,"message":"Not Found"}}`)
				return
			}
			fmt.Fprint(w, body)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func messageJSON(id, from, subject string) string {
	body := base64.RawURLEncoding.EncodeToString([]byte("message body"))
	return fmt.Sprintf(`{
		"id": "%s",
		"internalDate": "1767225600000",
		"payload": {
			"mimeType": "text/plain",
			"headers": [
				{"name": "From", "value": "%s"},
				{"name": "Subject", "value": "%s"}
			],
			"body": {"data": "%s"}
		}
	}`, id, from, subject, body)
}

// fakeToken is the refresh endpoint, optionally refusing the grant.
type fakeToken struct{ fail bool }

func (f *fakeToken) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.fail {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		fmt.Fprint(w, `{"access_token":"valid-token","expires_in":3600}`)
	})
}

type fixture struct {
	processor *Processor
	store     *store.MemoryStore
	sink      *recordingSink
	gmail     *fakeGmail
	token     *fakeToken
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fake := &fakeGmail{
		validToken: "valid-token",
		messages:   map[string]string{},
	}
	gmailSrv := httptest.NewServer(fake.handler())
	t.Cleanup(gmailSrv.Close)

	fakeTok := &fakeToken{}
	tokenSrv := httptest.NewServer(fakeTok.handler())
	t.Cleanup(tokenSrv.Close)

	google := config.GoogleConfig{
		ClientID:      "client-id",
		ClientSecret:  "client-secret",
		TokenEndpoint: tokenSrv.URL,
		APIEndpoint:   gmailSrv.URL + "/",
	}

	s := store.NewMemoryStore()
	sink := &recordingSink{}
	tokens := token.NewManager(s, google, testLogger(), nil)

	return &fixture{
		processor: NewProcessor(s, tokens, sink, google, testLogger(), nil),
		store:     s,
		sink:      sink,
		gmail:     fake,
		token:     fakeTok,
	}
}

func (f *fixture) seedCredential(t *testing.T, historyID string) {
	t.Helper()
	require.NoError(t, f.store.UpsertCredential(&models.Credential{
		AgentID:        "agent-1",
		Provider:       models.ProviderGoogle,
		AccessToken:    "valid-token",
		RefreshToken:   "refresh-1",
		Expiry:         time.Now().Add(time.Hour),
		ConnectedEmail: "agent@example.com",
		HistoryID:      historyID,
	}))
}

func envelope(emailAddress string, historyID uint64) *Envelope {
	payload := fmt.Sprintf(`{"emailAddress":"%s","historyId":%d}`, emailAddress, historyID)
	return &Envelope{
		Message: EnvelopeMessage{
			Data:      base64.StdEncoding.EncodeToString([]byte(payload)),
			MessageID: "pubsub-1",
		},
		Subscription: "projects/demo/subscriptions/gmail-push",
	}
}

func TestValidationHandshakeDropped(t *testing.T) {
	f := newFixture(t)

	result := f.processor.HandlePush(context.Background(), &Envelope{
		Subscription: "projects/demo/subscriptions/gmail-push",
	})
	assert.False(t, result.Processed)
	assert.Equal(t, ReasonHandshake, result.Reason)
}

func TestInvalidPayloadDropped(t *testing.T) {
	f := newFixture(t)

	cases := map[string]string{
		"bad base64":    "%%%",
		"bad json":      base64.StdEncoding.EncodeToString([]byte("not json")),
		"missing email": base64.StdEncoding.EncodeToString([]byte(`{"historyId":5}`)),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			result := f.processor.HandlePush(context.Background(), &Envelope{
				Message: EnvelopeMessage{Data: data},
			})
			assert.Equal(t, ReasonInvalidPayload, result.Reason)
		})
	}
}

func TestUnknownMailboxDropped(t *testing.T) {
	f := newFixture(t)

	result := f.processor.HandlePush(context.Background(), envelope("stranger@example.com", 200))
	assert.Equal(t, ReasonUnknownMailbox, result.Reason)
}

func TestNotConnectedDropped(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.UpsertCredential(&models.Credential{
		AgentID:        "agent-1",
		Provider:       models.ProviderGoogle,
		ConnectedEmail: "agent@example.com",
	}))

	result := f.processor.HandlePush(context.Background(), envelope("agent@example.com", 200))
	assert.Equal(t, ReasonNotConnected, result.Reason)
}

func TestFirstNotificationAnchorsCursor(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t, "")

	result := f.processor.HandlePush(context.Background(), envelope("agent@example.com", 200))
	assert.Equal(t, ReasonCursorAnchored, result.Reason)

	cred, err := f.store.GetCredential("agent-1", models.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "200", cred.HistoryID)
	assert.Empty(t, f.sink.delivered)
}

func TestFetchAndEmit(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t, "100")
	f.gmail.historyJSON = `{
		"historyId": "210",
		"history": [
			{"messagesAdded": [{"message": {"id": "msg-1"}}]},
			{"messagesAdded": [{"message": {"id": "msg-2"}}]}
		]
	}`
	f.gmail.messages["msg-1"] = messageJSON("msg-1", "Jane Doe <jane@example.com>", "Viewing request")
	f.gmail.messages["msg-2"] = messageJSON("msg-2", "bob@example.com", "Price question")

	result := f.processor.HandlePush(context.Background(), envelope("agent@example.com", 210))
	assert.True(t, result.Processed)
	assert.Equal(t, 2, result.Fetched)

	require.Len(t, f.sink.delivered, 2)
	assert.Equal(t, "jane@example.com", f.sink.delivered[0].FromEmail)
	assert.Equal(t, "Jane Doe", f.sink.delivered[0].FromName)
	assert.Equal(t, "message body", f.sink.delivered[0].Body)

	cred, err := f.store.GetCredential("agent-1", models.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "210", cred.HistoryID)
}

func TestExpiredCursorFallsBackToLatest(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t, "100")
	f.gmail.history404 = true
	f.gmail.latestID = "msg-9"
	f.gmail.messages["msg-9"] = messageJSON("msg-9", "carol@example.com", "Open house")

	result := f.processor.HandlePush(context.Background(), envelope("agent@example.com", 500))
	assert.True(t, result.Processed)
	assert.Equal(t, 1, result.Fetched)

	cred, err := f.store.GetCredential("agent-1", models.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "500", cred.HistoryID)
}

func TestExpiredCursorEmptyMailbox(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t, "100")
	f.gmail.history404 = true

	result := f.processor.HandlePush(context.Background(), envelope("agent@example.com", 500))
	assert.True(t, result.Processed)
	assert.Equal(t, 0, result.Fetched)

	cred, err := f.store.GetCredential("agent-1", models.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "500", cred.HistoryID)
}

func TestDeliveryFailureKeepsCursor(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t, "100")
	f.sink.fail = true
	f.gmail.historyJSON = `{
		"historyId": "210",
		"history": [{"messagesAdded": [{"message": {"id": "msg-1"}}]}]
	}`
	f.gmail.messages["msg-1"] = messageJSON("msg-1", "jane@example.com", "Hello")

	result := f.processor.HandlePush(context.Background(), envelope("agent@example.com", 210))
	assert.False(t, result.Processed)
	assert.Equal(t, ReasonDeliveryFailed, result.Reason)

	cred, err := f.store.GetCredential("agent-1", models.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "100", cred.HistoryID, "cursor must not advance past an unemitted batch")
}

func TestStaleTokenRetriedAfterRefresh(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t, "100")
	f.gmail.historyJSON = `{
		"historyId": "210",
		"history": [{"messagesAdded": [{"message": {"id": "msg-1"}}]}]
	}`
	f.gmail.messages["msg-1"] = messageJSON("msg-1", "jane@example.com", "Hello")

	// The stored token is no longer accepted by the provider even
	// though its recorded expiry is in the future.
	cred, err := f.store.GetCredential("agent-1", models.ProviderGoogle)
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateTokens("agent-1", models.ProviderGoogle, "revoked-token", cred.Expiry))

	result := f.processor.HandlePush(context.Background(), envelope("agent@example.com", 210))
	assert.True(t, result.Processed)
	assert.Equal(t, 1, result.Fetched)
}

func TestStaleTokenRetriedDuringMessageFetch(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t, "100")
	f.gmail.historyJSON = `{
		"historyId": "210",
		"history": [{"messagesAdded": [{"message": {"id": "msg-1"}}]}]
	}`
	f.gmail.messages["msg-1"] = messageJSON("msg-1", "jane@example.com", "Hello")

	// The token survives the history list but is rejected by the
	// message fetch, as happens when it is revoked mid-notification.
	f.gmail.historyOnlyToken = "revoked-token"
	cred, err := f.store.GetCredential("agent-1", models.ProviderGoogle)
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateTokens("agent-1", models.ProviderGoogle, "revoked-token", cred.Expiry))

	result := f.processor.HandlePush(context.Background(), envelope("agent@example.com", 210))
	assert.True(t, result.Processed)
	assert.Equal(t, 1, result.Fetched)

	cred, err = f.store.GetCredential("agent-1", models.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "valid-token", cred.AccessToken)
	assert.Equal(t, "210", cred.HistoryID)
}

func TestAuthFailureDropped(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t, "100")
	f.token.fail = true

	// An expired access token forces a refresh the provider refuses.
	require.NoError(t, f.store.UpdateTokens("agent-1", models.ProviderGoogle,
		"stale-token", time.Now().Add(-time.Minute)))

	result := f.processor.HandlePush(context.Background(), envelope("agent@example.com", 210))
	assert.False(t, result.Processed)
	assert.Equal(t, ReasonAuthFailed, result.Reason)
	assert.Empty(t, f.sink.delivered)
}

func TestEmptyHistoryAdvancesCursor(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t, "100")
	f.gmail.historyJSON = `{"historyId": "150"}`

	result := f.processor.HandlePush(context.Background(), envelope("agent@example.com", 150))
	assert.True(t, result.Processed)
	assert.Equal(t, 0, result.Fetched)

	cred, err := f.store.GetCredential("agent-1", models.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "150", cred.HistoryID)
}
