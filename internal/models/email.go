package models

import "time"

// PushNotification is the decoded inner payload of a Gmail Pub/Sub push.
type PushNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    string `json:"historyId"`
}

// InboundEmail is one parsed message fetched from the mailbox.
type InboundEmail struct {
	ProviderMessageID string    `json:"provider_message_id"`
	FromName          string    `json:"from_name"`
	FromEmail         string    `json:"from_email"`
	To                string    `json:"to"`
	Subject           string    `json:"subject"`
	Body              string    `json:"body"`
	Snippet           string    `json:"snippet,omitempty"`
	ReceivedAt        time.Time `json:"received_at"`
}
