package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadloft/leadloft/internal/config"
	"github.com/leadloft/leadloft/internal/logging"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	root := NewRootCommand()

	names := map[string]bool{}
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["credentials"])
	assert.True(t, names["doctor"])
}

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	t.Setenv("LEADLOFT_CONFIG_PATH", "")

	cfg, loader, err := loadConfig(&GlobalFlags{})
	require.NoError(t, err)
	assert.Nil(t, loader, "no file, nothing to watch")
	assert.Equal(t, 8420, cfg.Server.HTTPPort)
	assert.Equal(t, "./data/leadloft.db", cfg.Database.Path)
}

func TestLoadConfigDBPathOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9000\n"), 0o644))

	cfg, loader, err := loadConfig(&GlobalFlags{Config: path, DBPath: "/tmp/override.db"})
	require.NoError(t, err)
	require.NotNil(t, loader)
	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, "/tmp/override.db", cfg.Database.Path)
}

func TestConfigReloadAdjustsLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  log_level: info\n"), 0o644))

	cfg, loader, err := loadConfig(&GlobalFlags{Config: path})
	require.NoError(t, err)
	require.NotNil(t, loader)

	var buf bytes.Buffer
	logger := logging.NewLogger(
		logging.WithOutput(&buf),
		logging.WithLevel(logging.LogLevel(cfg.Server.LogLevel)))
	loader.SetOnChange(func(updated *config.Config) {
		logger.SetLevel(logging.LogLevel(updated.Server.LogLevel))
	})

	logger.Debug("dropped")
	assert.Empty(t, buf.String())

	require.NoError(t, os.WriteFile(path, []byte("server:\n  log_level: debug\n"), 0o644))
	_, err = loader.Reload()
	require.NoError(t, err)

	logger.Debug("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, _, err := loadConfig(&GlobalFlags{Config: "/nonexistent/config.yaml"})
	assert.Error(t, err)
}
