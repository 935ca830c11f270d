package alerts

import "time"

// Severity ranks how urgent an alert is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one operational event worth telling a human about.
type Alert struct {
	// Key identifies the alert class for dedup, e.g. "auth_failed:agent-1".
	Key       string
	Severity  Severity
	Title     string
	Message   string
	AgentID   string
	Timestamp time.Time
}
