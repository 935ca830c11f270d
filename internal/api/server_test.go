package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadloft/leadloft/internal/config"
	"github.com/leadloft/leadloft/internal/logging"
	"github.com/leadloft/leadloft/internal/metrics"
	"github.com/leadloft/leadloft/internal/models"
	"github.com/leadloft/leadloft/internal/oauth"
	"github.com/leadloft/leadloft/internal/processor"
	"github.com/leadloft/leadloft/internal/store"
	"github.com/leadloft/leadloft/internal/token"
)

const testAPIKey = "test-api-key"

// fakeGoogle stands in for both the OAuth token endpoint and the Gmail
// API.
type fakeGoogle struct {
	profileEmail      string
	watchCalls        int
	stopCalls         int
	stopFails         bool
	tokenFails        bool
	tokenOmitsRefresh bool
}

func (f *fakeGoogle) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			w.Header().Set("Content-Type", "application/json")
			if f.tokenFails {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Token has been revoked."}`)
				return
			}
			if f.tokenOmitsRefresh {
				fmt.Fprint(w, `{"access_token":"exchanged-at","token_type":"Bearer","expires_in":3600}`)
				return
			}
			fmt.Fprint(w, `{"access_token":"exchanged-at","refresh_token":"exchanged-rt","token_type":"Bearer","expires_in":3600}`)
		case "/gmail/v1/users/me/profile":
			fmt.Fprintf(w, `{"emailAddress":"%s","historyId":"10"}`, f.profileEmail)
		case "/gmail/v1/users/me/watch":
			f.watchCalls++
			fmt.Fprintf(w, `{"historyId":"10","expiration":"%d"}`, time.Now().Add(7*24*time.Hour).UnixMilli())
		case "/gmail/v1/users/me/stop":
			f.stopCalls++
			if f.stopFails {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

type testServer struct {
	server *Server
	store  *store.MemoryStore
	google *fakeGoogle
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	google := &fakeGoogle{profileEmail: "agent@example.com"}
	srv := httptest.NewServer(google.handler())
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Google: config.GoogleConfig{
			ClientID:        "client-id",
			ClientSecret:    "client-secret",
			RedirectURL:     "http://localhost/auth/google/callback",
			PubSubTopic:     "projects/demo/topics/gmail-push",
			ConnectRedirect: "/connect/google",
			TokenEndpoint:   srv.URL + "/token",
			APIEndpoint:     srv.URL + "/",
		},
		API: config.APIConfig{
			Auth: config.AuthConfig{APIKeys: []string{testAPIKey}},
		},
	}
	cfg.ApplyDefaults()

	logger := logging.NewLogger(logging.WithOutput(io.Discard))
	m := metrics.NewMetrics("leadloft_test")
	s := store.NewMemoryStore()
	tokens := token.NewManager(s, cfg.Google, logger, m)
	flow := oauth.NewFlow(cfg.Google)
	proc := processor.NewProcessor(s, tokens, nil, cfg.Google, logger, m)

	return &testServer{
		server: NewServer(cfg, s, tokens, flow, proc, logger, m),
		store:  s,
		google: google,
	}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(w, req)
	return w
}

func (ts *testServer) seedCredential(t *testing.T, agentID string) {
	t.Helper()
	require.NoError(t, ts.store.UpsertCredential(&models.Credential{
		AgentID:        agentID,
		Provider:       models.ProviderGoogle,
		AccessToken:    "stored-at",
		RefreshToken:   "stored-rt",
		Expiry:         time.Now().Add(time.Hour),
		ConnectedEmail: agentID + "@example.com",
		HistoryID:      "100",
	}))
}

func adminReq(method, target, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(DefaultAPIKeyHeader, testAPIKey)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func TestAuthStartRedirectsToConsent(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(adminReq(http.MethodGet, "/auth/google/start?agent_id=agent-1", ""))
	require.Equal(t, http.StatusFound, w.Code)

	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	q := location.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))

	state, err := oauth.DecodeState(q.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, "agent-1", state.AgentID)
}

func TestAuthStartReturnsJSONWhenAsked(t *testing.T) {
	ts := newTestServer(t)

	req := adminReq(http.MethodGet, "/auth/google/start?agent_id=agent-1", "")
	req.Header.Set("Accept", "application/json")
	w := ts.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	authURL, _ := body["auth_url"].(string)
	assert.Contains(t, authURL, "client_id=client-id")
}

func TestAuthStartRequiresAgentID(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(adminReq(http.MethodGet, "/auth/google/start", ""))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "not authenticated")
}

func TestAuthStartRequiresAPIKey(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/auth/google/start?agent_id=agent-1", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthCallbackConnectsMailbox(t *testing.T) {
	ts := newTestServer(t)

	state, err := oauth.EncodeState("agent-1")
	require.NoError(t, err)

	w := ts.do(httptest.NewRequest(http.MethodGet,
		"/auth/google/callback?code=auth-code&state="+url.QueryEscape(state), nil))
	require.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "connected=1")

	cred, err := ts.store.GetCredential("agent-1", models.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "exchanged-at", cred.AccessToken)
	assert.Equal(t, "exchanged-rt", cred.RefreshToken)
	assert.Equal(t, "agent@example.com", cred.ConnectedEmail)
	assert.True(t, cred.Watching(), "watch should be armed after connect")
	assert.Equal(t, 1, ts.google.watchCalls)
}

func TestAuthCallbackMissingParameters(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=only", nil))
	require.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "error=missing_parameters")
}

func TestAuthCallbackIncompleteTokenKeepsPriorCredential(t *testing.T) {
	ts := newTestServer(t)
	ts.seedCredential(t, "agent-1")
	ts.google.tokenOmitsRefresh = true

	state, err := oauth.EncodeState("agent-1")
	require.NoError(t, err)

	w := ts.do(httptest.NewRequest(http.MethodGet,
		"/auth/google/callback?code=auth-code&state="+url.QueryEscape(state), nil))
	require.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "error=incomplete_token")

	// The stored credential is left exactly as it was.
	cred, err := ts.store.GetCredential("agent-1", models.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "stored-at", cred.AccessToken)
	assert.Equal(t, "stored-rt", cred.RefreshToken)
	assert.Equal(t, "100", cred.HistoryID)
}

func TestAuthCallbackInvalidState(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=x&state=garbage", nil))
	require.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "error=invalid_state")
}

func TestAuthCallbackConsentDenied(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/auth/google/callback?error=access_denied", nil))
	require.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "error=consent_denied")
}

func TestAuthCallbackIdentityConflict(t *testing.T) {
	ts := newTestServer(t)

	// agent-2 already owns the mailbox the consent flow comes back with.
	require.NoError(t, ts.store.UpsertCredential(&models.Credential{
		AgentID:        "agent-2",
		Provider:       models.ProviderGoogle,
		AccessToken:    "at",
		RefreshToken:   "rt",
		ConnectedEmail: "agent@example.com",
	}))

	state, err := oauth.EncodeState("agent-1")
	require.NoError(t, err)

	w := ts.do(httptest.NewRequest(http.MethodGet,
		"/auth/google/callback?code=auth-code&state="+url.QueryEscape(state), nil))
	require.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "error=identity_conflict")
}

func TestPushEndpointAlwaysAcknowledges(t *testing.T) {
	ts := newTestServer(t)

	// Malformed JSON body.
	req := httptest.NewRequest(http.MethodPost, "/pubsub/gmail", strings.NewReader("{broken"))
	req.Header.Set("Content-Type", "application/json")
	w := ts.do(req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Validation handshake.
	req = httptest.NewRequest(http.MethodPost, "/pubsub/gmail",
		strings.NewReader(`{"message":{"messageId":"1"},"subscription":"sub"}`))
	req.Header.Set("Content-Type", "application/json")
	w = ts.do(req)
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "dropped", body["outcome"])
}

func TestAdminRoutesRequireAPIKey(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/gmail/status?agent_id=agent-1", nil)
	w := ts.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req.Header.Set(DefaultAPIKeyHeader, "wrong-key")
	w = ts.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWatchStartAndStatus(t *testing.T) {
	ts := newTestServer(t)
	ts.seedCredential(t, "agent-1")

	w := ts.do(adminReq(http.MethodPost, "/gmail/watch", `{"agent_id":"agent-1"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ts.google.watchCalls)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	// Existing cursor wins over the watch baseline.
	assert.Equal(t, "100", body["history_id"])

	w = ts.do(adminReq(http.MethodGet, "/gmail/status?agent_id=agent-1", ""))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, true, body["watching"])
}

func TestWatchStartUnknownAgent(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(adminReq(http.MethodPost, "/gmail/watch", `{"agent_id":"ghost"}`))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWatchStopDisconnects(t *testing.T) {
	ts := newTestServer(t)
	ts.seedCredential(t, "agent-1")

	w := ts.do(adminReq(http.MethodPost, "/gmail/stop", `{"agent_id":"agent-1"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ts.google.stopCalls)

	cred, err := ts.store.GetCredential("agent-1", models.ProviderGoogle)
	require.NoError(t, err)
	assert.False(t, cred.Connected())
	assert.False(t, cred.Watching())
	assert.Empty(t, cred.AccessToken)
	assert.Empty(t, cred.RefreshToken)
	assert.Empty(t, cred.HistoryID)
}

func TestWatchStopClearsStateDespiteRemoteFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.seedCredential(t, "agent-1")
	ts.google.stopFails = true

	w := ts.do(adminReq(http.MethodPost, "/gmail/stop", `{"agent_id":"agent-1"}`))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["remote_stopped"])

	cred, err := ts.store.GetCredential("agent-1", models.ProviderGoogle)
	require.NoError(t, err)
	assert.False(t, cred.Connected())
	assert.Empty(t, cred.HistoryID)
}

func TestCredentialGetMasksSecrets(t *testing.T) {
	ts := newTestServer(t)
	ts.seedCredential(t, "agent-1")

	w := ts.do(adminReq(http.MethodGet, "/credentials/agent-1", ""))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotContains(t, w.Body.String(), "stored-at")
	assert.NotContains(t, w.Body.String(), "stored-rt")
	assert.Equal(t, "agent-1@example.com", body["connected_email"])
}

func TestCredentialDelete(t *testing.T) {
	ts := newTestServer(t)
	ts.seedCredential(t, "agent-1")
	require.NoError(t, ts.store.UpdateWatch("agent-1", models.ProviderGoogle, "100", time.Now().Add(time.Hour)))

	w := ts.do(adminReq(http.MethodDelete, "/credentials/agent-1", ""))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ts.google.stopCalls, "watch stopped before delete")

	w = ts.do(adminReq(http.MethodGet, "/credentials/agent-1", ""))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestForceRefresh(t *testing.T) {
	ts := newTestServer(t)
	ts.seedCredential(t, "agent-1")

	w := ts.do(adminReq(http.MethodPost, "/oauth/refresh", `{"agent_id":"agent-1"}`))
	require.Equal(t, http.StatusOK, w.Code)

	cred, err := ts.store.GetCredential("agent-1", models.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "exchanged-at", cred.AccessToken)
}

func TestForceRefreshSurfacesProviderError(t *testing.T) {
	ts := newTestServer(t)
	ts.seedCredential(t, "agent-1")
	ts.google.tokenFails = true

	w := ts.do(adminReq(http.MethodPost, "/oauth/refresh", `{"agent_id":"agent-1"}`))
	require.Equal(t, http.StatusBadGateway, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(400), body["provider_status"])
	detail, _ := body["detail"].(string)
	assert.Contains(t, detail, "invalid_grant")
	assert.Contains(t, detail, "Token has been revoked.")
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestMaskToken(t *testing.T) {
	assert.Empty(t, MaskToken(""))
	assert.Equal(t, "****", MaskToken("short"))
	assert.Equal(t, "ya29...wxyz", MaskToken("ya29abcdefgwxyz"))
}

func TestIPRateLimiter(t *testing.T) {
	limiter := NewIPRateLimiter(60, 2)

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"), "burst of two is spent")
	assert.True(t, limiter.Allow("10.0.0.2"), "other clients are unaffected")

	disabled := NewIPRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, disabled.Allow("10.0.0.1"))
	}
}
