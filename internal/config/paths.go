package config

import (
	"os"
	"path/filepath"
)

// getConfigDir returns the config directory path.
// Uses I2PMGR_CONFIG_DIR env var if set, otherwise defaults to ~/.i2pmgr.
// This is computed dynamically to support test isolation.
func getConfigDir() string {
	if dir := os.Getenv("I2PMGR_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".i2pmgr")
}

// Dir returns the configuration directory path
func Dir() string {
	return getConfigDir()
}

// DataDir returns the i2pd data directory (netDb, router keys, tunnels).
// The daemon is always launched with --datadir pointing here.
func DataDir() string {
	if dir := os.Getenv("I2PMGR_DATA_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(getConfigDir(), "i2p")
}

// RouterConfigPath returns the path of the persisted daemon control
// configuration document (a JSON object).
func RouterConfigPath() string {
	return filepath.Join(getConfigDir(), "router.json")
}

// SettingsPath returns the global settings file path
func SettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// PidPath returns the PID file path of the running supervisor
func PidPath() string {
	return filepath.Join(getConfigDir(), "i2pmgr.pid")
}

// LogPath returns the supervisor log file path.
// Uses I2PMGR_LOG env var if set, otherwise defaults to config_dir/i2pmgr.log.
func LogPath() string {
	if envPath := os.Getenv("I2PMGR_LOG"); envPath != "" {
		return envPath
	}
	return filepath.Join(getConfigDir(), "i2pmgr.log")
}

// LockPath returns the lock file path
func LockPath() string {
	return filepath.Join(getConfigDir(), "i2pmgr.lock")
}

// EnsureDir creates the config directory if it doesn't exist
func EnsureDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// EnsureDataDir creates the daemon data directory if it doesn't exist
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0700)
}
