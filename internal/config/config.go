package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config represents the complete application configuration.
type Config struct {
	Version  string         `yaml:"version"`
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	Google   GoogleConfig   `yaml:"google"`
	Intake   IntakeConfig   `yaml:"intake"`
	Health   HealthConfig   `yaml:"health"`
	Alerts   AlertsConfig   `yaml:"alerts"`
}

// ServerConfig contains server-related configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig contains TLS configuration.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	MinVersion string `yaml:"min_version"` // "1.2" or "1.3"
}

// APIConfig contains API-related configuration.
type APIConfig struct {
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig contains authentication configuration.
type AuthConfig struct {
	APIKeys    []string `yaml:"api_keys"`
	HeaderName string   `yaml:"header_name"`
}

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// DatabaseConfig contains SQLite configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// GoogleConfig contains the OAuth client and Gmail push settings.
type GoogleConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
	// PubSubTopic is the full topic name Gmail publishes watch events to,
	// e.g. projects/my-project/topics/gmail-push.
	PubSubTopic string `yaml:"pubsub_topic"`
	// ConnectRedirect is the page users land on after the consent flow.
	ConnectRedirect string `yaml:"connect_redirect"`
	// TokenEndpoint overrides the provider token URL. Tests point it at a
	// local server; empty means the Google default.
	TokenEndpoint string `yaml:"token_endpoint"`
	// APIEndpoint overrides the Gmail API base URL, for tests.
	APIEndpoint string `yaml:"api_endpoint"`
}

// DefaultScopes are requested when the config lists none. Mailbox read,
// send, modify and label access plus basic identity.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.send",
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/gmail.labels",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// IntakeConfig configures the downstream lead/message sink.
type IntakeConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// HealthConfig configures the background credential checker.
type HealthConfig struct {
	Enabled       bool          `yaml:"enabled"`
	CheckInterval time.Duration `yaml:"check_interval"`
	// RenewBefore is how long before a watch lapses it gets re-armed.
	RenewBefore time.Duration `yaml:"renew_before"`
}

// AlertsConfig configures operational alerting.
type AlertsConfig struct {
	Enabled            bool          `yaml:"enabled"`
	TelegramToken      string        `yaml:"telegram_token"`
	TelegramChatID     int64         `yaml:"telegram_chat_id"`
	DedupWindow        time.Duration `yaml:"dedup_window"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port must be between 1 and 65535, got %d", c.Server.HTTPPort)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}

	switch c.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level must be one of debug, info, warn, error; got %q", c.Server.LogLevel)
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls requires cert_file and key_file when enabled")
		}
		switch c.Server.TLS.MinVersion {
		case "", "1.2", "1.3":
		default:
			return fmt.Errorf("server.tls.min_version must be 1.2 or 1.3, got %q", c.Server.TLS.MinVersion)
		}
	}

	if c.Google.ClientID != "" || c.Google.ClientSecret != "" {
		if c.Google.ClientID == "" || c.Google.ClientSecret == "" {
			return fmt.Errorf("google.client_id and google.client_secret must be set together")
		}
		if c.Google.RedirectURL == "" {
			return fmt.Errorf("google.redirect_url is required when the oauth client is configured")
		}
		if _, err := url.ParseRequestURI(c.Google.RedirectURL); err != nil {
			return fmt.Errorf("google.redirect_url is not a valid URL: %v", err)
		}
		if c.Google.PubSubTopic != "" && !strings.HasPrefix(c.Google.PubSubTopic, "projects/") {
			return fmt.Errorf("google.pubsub_topic must be a full topic name (projects/<project>/topics/<topic>)")
		}
	}

	if c.Intake.WebhookURL != "" {
		if _, err := url.ParseRequestURI(c.Intake.WebhookURL); err != nil {
			return fmt.Errorf("intake.webhook_url is not a valid URL: %v", err)
		}
	}

	if c.Alerts.Enabled && c.Alerts.TelegramToken != "" && c.Alerts.TelegramChatID == 0 {
		return fmt.Errorf("alerts.telegram_chat_id is required when a telegram token is configured")
	}

	return nil
}

// ApplyDefaults fills in zero-valued fields with sane defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8420
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = "json"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/leadloft.db"
	}
	if len(c.Google.Scopes) == 0 {
		c.Google.Scopes = append([]string{}, DefaultScopes...)
	}
	if c.Google.ConnectRedirect == "" {
		c.Google.ConnectRedirect = "/connect/google"
	}
	if c.Intake.Timeout == 0 {
		c.Intake.Timeout = 10 * time.Second
	}
	if c.Health.CheckInterval == 0 {
		c.Health.CheckInterval = 10 * time.Minute
	}
	if c.Health.RenewBefore == 0 {
		c.Health.RenewBefore = 24 * time.Hour
	}
	if c.Alerts.DedupWindow == 0 {
		c.Alerts.DedupWindow = 30 * time.Minute
	}
	if c.Alerts.RateLimitPerMinute == 0 {
		c.Alerts.RateLimitPerMinute = 20
	}
}
