package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/leadloft/leadloft/internal/errors"
)

const validYAML = `
version: "1"
server:
  host: 127.0.0.1
  http_port: 9000
  log_level: debug
google:
  client_id: test-client
  client_secret: test-secret
  redirect_url: https://crm.example.com/auth/google/callback
  pubsub_topic: projects/test-project/topics/gmail-push
intake:
  webhook_url: https://hooks.example.com/email
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, "./data/leadloft.db", cfg.Database.Path)
	assert.Equal(t, DefaultScopes, cfg.Google.Scopes)
	assert.Equal(t, "/connect/google", cfg.Google.ConnectRedirect)
	assert.Equal(t, 10*time.Second, cfg.Intake.Timeout)
	assert.Equal(t, 24*time.Hour, cfg.Health.RenewBefore)
}

func TestParseRejectsInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("server: [not a map"))
	var parseErr *apperrors.ErrConfigParse
	assert.ErrorAs(t, err, &parseErr)
}

func TestValidateRejectsPartialOAuthClient(t *testing.T) {
	_, err := Parse([]byte(`
server:
  http_port: 8080
google:
  client_id: only-id
`))
	var valErr *apperrors.ErrConfigValidation
	assert.ErrorAs(t, err, &valErr)
}

func TestValidateRejectsBadTopic(t *testing.T) {
	_, err := Parse([]byte(`
google:
  client_id: id
  client_secret: secret
  redirect_url: https://crm.example.com/cb
  pubsub_topic: gmail-push
`))
	var valErr *apperrors.ErrConfigValidation
	assert.ErrorAs(t, err, &valErr)
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.Server.HTTPPort = 70000
	assert.Error(t, cfg.Validate())
}

func TestLoaderSubstitutesEnvVars(t *testing.T) {
	t.Setenv("TEST_GOOGLE_SECRET", "from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  http_port: 8080
google:
  client_id: id
  client_secret: ${TEST_GOOGLE_SECRET}
  redirect_url: https://crm.example.com/cb
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	loader := NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Google.ClientSecret)
}

func TestLoaderMissingFile(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := loader.Load()

	var notFound *apperrors.ErrConfigNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 8080\n"), 0o644))

	loader := NewLoader(path)
	_, err := loader.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 1)
	loader.SetOnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})
	require.NoError(t, loader.StartWatcher())
	defer loader.StopWatcher()

	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9090\n"), 0o644))

	select {
	case cfg := <-changed:
		assert.Equal(t, 9090, cfg.Server.HTTPPort)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
