package token

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/leadloft/leadloft/internal/config"
	"github.com/leadloft/leadloft/internal/errors"
	"github.com/leadloft/leadloft/internal/logging"
	"github.com/leadloft/leadloft/internal/metrics"
	"github.com/leadloft/leadloft/internal/models"
	"github.com/leadloft/leadloft/internal/store"
)

const (
	// ExpiryMargin is how long before the recorded expiry a token is
	// already treated as stale. Covers clock skew and request latency.
	ExpiryMargin = 60 * time.Second

	// DefaultTokenTTL is assumed when the provider omits expires_in.
	DefaultTokenTTL = time.Hour

	// DefaultTokenEndpoint is Google's OAuth2 token endpoint.
	DefaultTokenEndpoint = "https://oauth2.googleapis.com/token"
)

// Expired reports whether a token with the given expiry should be
// refreshed before use. A zero expiry always counts as expired.
func Expired(expiry time.Time, now time.Time) bool {
	if expiry.IsZero() {
		return true
	}
	return !now.Add(ExpiryMargin).Before(expiry)
}

// refreshResponse is the provider's token endpoint payload.
type refreshResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

// Manager refreshes expired access tokens against the provider's token
// endpoint and persists the result. Refreshes for the same agent are
// serialized so concurrent callers do not race the same refresh token.
type Manager struct {
	store    store.Store
	client   *http.Client
	logger   *logging.Logger
	metrics  *metrics.Metrics
	clientID string
	secret   string
	endpoint string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a token manager from the Google OAuth client config.
func NewManager(s store.Store, cfg config.GoogleConfig, logger *logging.Logger, m *metrics.Metrics) *Manager {
	endpoint := cfg.TokenEndpoint
	if endpoint == "" {
		endpoint = DefaultTokenEndpoint
	}
	return &Manager{
		store:    s,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger,
		metrics:  m,
		clientID: cfg.ClientID,
		secret:   cfg.ClientSecret,
		endpoint: endpoint,
		locks:    make(map[string]*sync.Mutex),
	}
}

// agentLock returns the per-agent mutex, creating it on first use.
func (m *Manager) agentLock(agentID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[agentID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[agentID] = lock
	}
	return lock
}

// EnsureFresh returns a valid access token for the credential,
// refreshing it first when the stored token is expired or about to
// expire. The credential is updated in place on refresh.
func (m *Manager) EnsureFresh(ctx context.Context, cred *models.Credential) (string, error) {
	if !Expired(cred.Expiry, time.Now()) {
		return cred.AccessToken, nil
	}
	return m.ForceRefresh(ctx, cred)
}

// ForceRefresh refreshes the access token regardless of its recorded
// expiry. Used when the provider rejects a token that should still be
// valid.
func (m *Manager) ForceRefresh(ctx context.Context, cred *models.Credential) (string, error) {
	lock := m.agentLock(cred.AgentID)
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have refreshed while we waited on the lock.
	current, err := m.store.GetCredential(cred.AgentID, cred.Provider)
	if err == nil && current.AccessToken != cred.AccessToken && !Expired(current.Expiry, time.Now()) {
		*cred = *current
		return cred.AccessToken, nil
	}

	if cred.RefreshToken == "" {
		return "", &errors.ErrRefreshTokenMissing{AgentID: cred.AgentID}
	}

	accessToken, expiry, err := m.refresh(ctx, cred.RefreshToken)
	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordTokenRefresh("failure")
		}
		m.logger.ErrorWithContext(ctx, "token refresh failed",
			"agent_id", cred.AgentID,
			"provider", cred.Provider,
			"error", err.Error())
		return "", err
	}

	if err := m.store.UpdateTokens(cred.AgentID, cred.Provider, accessToken, expiry); err != nil {
		return "", &errors.ErrStoreUnavailable{Operation: "update tokens", Err: err}
	}

	cred.AccessToken = accessToken
	cred.Expiry = expiry

	if m.metrics != nil {
		m.metrics.RecordTokenRefresh("success")
	}
	m.logger.InfoWithContext(ctx, "access token refreshed",
		"agent_id", cred.AgentID,
		"provider", cred.Provider,
		"expires_at", expiry.Format(time.RFC3339))

	return accessToken, nil
}

// refresh performs the refresh_token grant against the token endpoint.
func (m *Manager) refresh(ctx context.Context, refreshToken string) (string, time.Time, error) {
	form := url.Values{}
	form.Set("client_id", m.clientID)
	form.Set("client_secret", m.secret)
	form.Set("refresh_token", refreshToken)
	form.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", time.Time{}, err
	}

	if resp.StatusCode != http.StatusOK {
		// Keep the provider's raw body. invalid_grant in there means
		// the user revoked access and a reconnect is required.
		return "", time.Time{}, &errors.ErrProviderRefresh{Status: resp.StatusCode, Body: string(body)}
	}

	var parsed refreshResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", time.Time{}, &errors.ErrProviderRefresh{Status: resp.StatusCode, Body: string(body)}
	}
	if parsed.AccessToken == "" {
		return "", time.Time{}, &errors.ErrProviderRefresh{Status: resp.StatusCode, Body: string(body)}
	}

	ttl := DefaultTokenTTL
	if parsed.ExpiresIn > 0 {
		ttl = time.Duration(parsed.ExpiresIn) * time.Second
	}
	return parsed.AccessToken, time.Now().UTC().Add(ttl), nil
}
