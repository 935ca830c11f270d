package models

import "time"

// ProviderGoogle is the only identity provider currently supported.
const ProviderGoogle = "google"

// Credential stores the OAuth material connecting one agent to one provider
// mailbox. There is at most one record per (agent_id, provider); inbound push
// notifications are routed back to the agent via ConnectedEmail.
type Credential struct {
	AgentID        string    `json:"agent_id"`
	Provider       string    `json:"provider"`
	AccessToken    string    `json:"access_token,omitempty"`
	RefreshToken   string    `json:"refresh_token,omitempty"`
	TokenType      string    `json:"token_type,omitempty"`
	Scope          string    `json:"scope,omitempty"`
	Expiry         time.Time `json:"expiry,omitempty"`
	ConnectedEmail string    `json:"connected_email,omitempty"`
	// HistoryID is the last processed position in the provider's change
	// history. It only moves forward, and only after a batch was delivered.
	HistoryID       string    `json:"history_id,omitempty"`
	WatchExpiration time.Time `json:"watch_expiration,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Connected reports whether the credential currently has an authorized grant.
func (c *Credential) Connected() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// Watching reports whether a push subscription is armed for this credential.
func (c *Credential) Watching() bool {
	return c.HistoryID != "" && !c.WatchExpiration.IsZero()
}
