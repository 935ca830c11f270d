// Package mocks provides fake external services for tests.
package mocks

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/leadloft/leadloft/internal/config"
)

// MockMessage is one inbound email the mock mailbox can serve.
type MockMessage struct {
	ID        string
	From      string
	Subject   string
	Body      string
	HistoryID uint64
}

// MockGoogle simulates the OAuth token endpoint and the Gmail API for
// one mailbox.
type MockGoogle struct {
	mu sync.Mutex

	ProfileEmail  string
	WatchBaseline uint64
	messages      []MockMessage

	TokenCalls int
	WatchCalls int
	StopCalls  int
}

// NewMockGoogle creates a mock for the given mailbox address.
func NewMockGoogle(email string) *MockGoogle {
	return &MockGoogle{
		ProfileEmail:  email,
		WatchBaseline: 10,
	}
}

// Start serves the mock over HTTP and returns a Google config pointing
// at it. The returned func shuts the server down.
func (m *MockGoogle) Start() (config.GoogleConfig, func()) {
	srv := httptest.NewServer(m.handler())
	cfg := config.GoogleConfig{
		ClientID:        "mock-client-id",
		ClientSecret:    "mock-client-secret",
		RedirectURL:     "http://localhost/auth/google/callback",
		PubSubTopic:     "projects/mock/topics/gmail-push",
		ConnectRedirect: "/connect/google",
		TokenEndpoint:   srv.URL + "/token",
		APIEndpoint:     srv.URL + "/",
	}
	return cfg, srv.Close
}

// AddMessage makes a message appear in the mailbox at the given point
// in history.
func (m *MockGoogle) AddMessage(msg MockMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

func (m *MockGoogle) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()

		switch {
		case r.URL.Path == "/token":
			m.TokenCalls++
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token":"mock-access-token","refresh_token":"mock-refresh-token","token_type":"Bearer","expires_in":3600}`)

		case r.URL.Path == "/gmail/v1/users/me/profile":
			fmt.Fprintf(w, `{"emailAddress":"%s","historyId":"%d"}`, m.ProfileEmail, m.currentHistoryID())

		case r.URL.Path == "/gmail/v1/users/me/watch":
			m.WatchCalls++
			fmt.Fprintf(w, `{"historyId":"%d","expiration":"%d"}`,
				m.currentHistoryID(), time.Now().Add(7*24*time.Hour).UnixMilli())

		case r.URL.Path == "/gmail/v1/users/me/stop":
			m.StopCalls++
			w.WriteHeader(http.StatusNoContent)

		case r.URL.Path == "/gmail/v1/users/me/history":
			m.serveHistory(w, r)

		case r.URL.Path == "/gmail/v1/users/me/messages":
			m.serveLatest(w)

		case strings.HasPrefix(r.URL.Path, "/gmail/v1/users/me/messages/"):
			m.serveMessage(w, strings.TrimPrefix(r.URL.Path, "/gmail/v1/users/me/messages/"))

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func (m *MockGoogle) currentHistoryID() uint64 {
	current := m.WatchBaseline
	for _, msg := range m.messages {
		if msg.HistoryID > current {
			current = msg.HistoryID
		}
	}
	return current
}

func (m *MockGoogle) serveHistory(w http.ResponseWriter, r *http.Request) {
	start, err := strconv.ParseUint(r.URL.Query().Get("startHistoryId"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var items []string
	for _, msg := range m.messages {
		if msg.HistoryID > start {
			items = append(items, fmt.Sprintf(`{"messagesAdded":[{"message":{"id":"%s"}}]}`, msg.ID))
		}
	}

	if len(items) == 0 {
		fmt.Fprintf(w, `{"historyId":"%d"}`, m.currentHistoryID())
		return
	}
	fmt.Fprintf(w, `{"historyId":"%d","history":[%s]}`, m.currentHistoryID(), strings.Join(items, ","))
}

func (m *MockGoogle) serveLatest(w http.ResponseWriter) {
	if len(m.messages) == 0 {
		fmt.Fprint(w, `{}`)
		return
	}
	latest := m.messages[len(m.messages)-1]
	fmt.Fprintf(w, `{"messages":[{"id":"%s"}]}`, latest.ID)
}

func (m *MockGoogle) serveMessage(w http.ResponseWriter, id string) {
	for _, msg := range m.messages {
		if msg.ID != id {
			continue
		}
		body := base64.RawURLEncoding.EncodeToString([]byte(msg.Body))
		fmt.Fprintf(w, `{
			"id": "%s",
			"snippet": "%s",
			"internalDate": "%d",
			"payload": {
				"mimeType": "text/plain",
				"headers": [
					{"name": "From", "value": "%s"},
					{"name": "To", "value": "%s"},
					{"name": "Subject", "value": "%s"}
				],
				"body": {"data": "%s"}
			}
		}`, msg.ID, msg.Subject, time.Now().UnixMilli(), msg.From, m.ProfileEmail, msg.Subject, body)
		return
	}
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprint(w, `{"error":{"code":404,"message":"Not Found"}}`)
}

// PushEnvelope builds the Pub/Sub push body for a notification.
func PushEnvelope(emailAddress string, historyID uint64) string {
	payload := fmt.Sprintf(`{"emailAddress":"%s","historyId":%d}`, emailAddress, historyID)
	return fmt.Sprintf(`{"message":{"data":"%s","messageId":"mock-%d"},"subscription":"projects/mock/subscriptions/gmail-push"}`,
		base64.StdEncoding.EncodeToString([]byte(payload)), historyID)
}
