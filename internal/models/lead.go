package models

import "time"

// Lead is a CRM contact created from an inbound email sender.
type Lead struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Source    string    `json:"source"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// LeadMessage is one message attached to a lead. ProviderMessageID is the
// provider-side message id and is the deduplication key for at-least-once
// delivery from the push pipeline.
type LeadMessage struct {
	ID                string    `json:"id"`
	LeadID            string    `json:"lead_id"`
	AgentID           string    `json:"agent_id"`
	Direction         string    `json:"direction"`
	Channel           string    `json:"channel"`
	Subject           string    `json:"subject,omitempty"`
	Body              string    `json:"body,omitempty"`
	ProviderMessageID string    `json:"provider_message_id"`
	ReceivedAt        time.Time `json:"received_at"`
	CreatedAt         time.Time `json:"created_at"`
}
