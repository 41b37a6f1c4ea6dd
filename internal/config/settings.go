package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Settings represents global supervisor settings. These configure the
// supervisor itself, not the managed daemon; the daemon control
// configuration lives in router.json (see router.go).
type Settings struct {
	LogLevel     string `yaml:"log_level"`     // trace, debug, info, warn, none (default: info)
	DaemonPath   string `yaml:"daemon_path"`   // override for the i2pd binary location
	ControlURL   string `yaml:"control_url"`   // base URL of the daemon control API
	ControlToken string `yaml:"control_token"` // optional bearer token for the control API
	PollInterval int    `yaml:"poll_interval"` // stats poll interval in seconds, 0 = default (5)
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		LogLevel:     "info",
		ControlURL:   "http://127.0.0.1:7650",
		PollInterval: 5,
	}
}

// LoadSettings loads the global settings from the config dir.
// Always reads from file to get latest config. Falls back to defaults if the
// file doesn't exist.
func LoadSettings() (*Settings, error) {
	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			settings := DefaultSettings()
			return &settings, nil
		}
		return nil, err
	}

	settings := DefaultSettings()
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, err
	}

	return &settings, nil
}

// SaveSettings saves the global settings to the config dir
func SaveSettings(settings *Settings) error {
	if err := EnsureDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	header := []byte("# i2pmgr supervisor settings\n# See: i2pmgr settings --help\n\n")
	return os.WriteFile(SettingsPath(), append(header, data...), 0600)
}
