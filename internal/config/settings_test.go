package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	settings := DefaultSettings()
	assert.Equal(t, "info", settings.LogLevel)
	assert.Empty(t, settings.DaemonPath)
	assert.Equal(t, "http://127.0.0.1:7650", settings.ControlURL)
	assert.Empty(t, settings.ControlToken)
	assert.Equal(t, 5, settings.PollInterval)
}

func TestLoadSettingsMissingFile(t *testing.T) {
	t.Setenv("I2PMGR_CONFIG_DIR", t.TempDir())

	settings, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), *settings)
}

func TestSettingsSaveAndLoad(t *testing.T) {
	t.Setenv("I2PMGR_CONFIG_DIR", t.TempDir())

	settings := &Settings{
		LogLevel:     "debug",
		DaemonPath:   "/opt/i2pd/i2pd",
		ControlURL:   "http://127.0.0.1:9999",
		ControlToken: "secret",
		PollInterval: 2,
	}
	require.NoError(t, SaveSettings(settings))

	loaded, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, *settings, *loaded)
}

func TestLoadSettingsPartialFile(t *testing.T) {
	t.Setenv("I2PMGR_CONFIG_DIR", t.TempDir())
	require.NoError(t, EnsureDir())

	// Keys absent from the file keep their defaults.
	require.NoError(t, os.WriteFile(SettingsPath(), []byte("log_level: warn\n"), 0600))

	loaded, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "warn", loaded.LogLevel)
	assert.Equal(t, "http://127.0.0.1:7650", loaded.ControlURL)
	assert.Equal(t, 5, loaded.PollInterval)
}

func TestLoadSettingsInvalidYAML(t *testing.T) {
	t.Setenv("I2PMGR_CONFIG_DIR", t.TempDir())
	require.NoError(t, EnsureDir())
	require.NoError(t, os.WriteFile(SettingsPath(), []byte("log_level: [unclosed"), 0600))

	_, err := LoadSettings()
	assert.Error(t, err)
}
