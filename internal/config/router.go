package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"i2pmgr/internal/common"
)

// Configuration is the daemon control configuration: a mapping of named
// options to values. It is independent of the daemon's own config file and
// is persisted as a JSON object under the config directory.
type Configuration map[string]any

// DefaultConfiguration returns a configuration populated with documented
// defaults. Numeric values are float64 so that a configuration survives a
// save/load round trip unchanged (JSON numbers decode as float64).
func DefaultConfiguration() Configuration {
	return Configuration{
		"enabled":         true,
		"proxyHost":       "127.0.0.1",
		"proxyPort":       float64(4447),
		"httpProxyPort":   float64(4444),
		"tunnelName":      "i2pmgr-client",
		"tunnelPort":      float64(6668),
		"bandwidthLimit":  float64(1024),
		"connectionLimit": float64(2048),
		"floodfill":       false,
		"reseedURL":       "https://reseed.i2p-projekt.de/",
		"logLevel":        "info",
	}
}

// Validate checks that the required keys are present and of the correct
// kind. Required: "enabled" (boolean), "proxyHost" (string),
// "proxyPort" (number).
func Validate(cfg Configuration) error {
	checks := []struct {
		key  string
		kind string
	}{
		{"enabled", "boolean"},
		{"proxyHost", "string"},
		{"proxyPort", "number"},
	}
	for _, c := range checks {
		v, ok := cfg[c.key]
		if !ok {
			return fmt.Errorf("%w: missing required key %q", common.ErrConfigInvalid, c.key)
		}
		if !isKind(v, c.kind) {
			return fmt.Errorf("%w: key %q must be a %s", common.ErrConfigInvalid, c.key, c.kind)
		}
	}
	return nil
}

func isKind(v any, kind string) bool {
	switch kind {
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int64, json.Number:
			return true
		}
	}
	return false
}

// Router holds the in-memory daemon control configuration and persists it
// to a file. One instance per application; the supervisor reads it for
// launch arguments and the tunnel commands read it for port defaults.
type Router struct {
	mu     sync.RWMutex
	path   string
	values Configuration
}

// NewRouter creates a configuration manager seeded with defaults,
// persisting to the given file path.
func NewRouter(path string) *Router {
	return &Router{
		path:   path,
		values: DefaultConfiguration(),
	}
}

// Path returns the persistence file path.
func (r *Router) Path() string {
	return r.path
}

// Configuration returns a copy of the current configuration.
func (r *Router) Configuration() Configuration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(Configuration, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Get returns a single configuration value.
func (r *Router) Get(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[key]
	return v, ok
}

// SetConfiguration replaces the configuration wholesale.
//
// Quirk: the new configuration is applied even when validation fails; only
// persistence is skipped and the validation error returned. Callers that
// need strict behavior must call Validate before SetConfiguration.
func (r *Router) SetConfiguration(cfg Configuration) error {
	applied := make(Configuration, len(cfg))
	for k, v := range cfg {
		applied[k] = v
	}
	r.mu.Lock()
	r.values = applied
	r.mu.Unlock()

	if err := Validate(cfg); err != nil {
		return err
	}
	return r.Save()
}

// Load reads the configuration document from disk. On any failure (missing
// file, unparsable content, non-object top level) the current configuration
// is left untouched and an error returned.
func (r *Router) Load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigIO, err)
	}
	var loaded Configuration
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigIO, err)
	}
	if loaded == nil {
		return fmt.Errorf("%w: top level is not an object", common.ErrConfigIO)
	}
	r.mu.Lock()
	r.values = loaded
	r.mu.Unlock()
	return nil
}

// Save writes the configuration document to disk.
func (r *Router) Save() error {
	r.mu.RLock()
	data, err := json.MarshalIndent(r.values, "", "  ")
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigIO, err)
	}
	if err := EnsureDir(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigIO, err)
	}
	if err := os.WriteFile(r.path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigIO, err)
	}
	return nil
}

// SocksPort returns the configured SOCKS proxy port, defaulting to 4447.
func (r *Router) SocksPort() int {
	if v, ok := r.Get("proxyPort"); ok {
		if n, ok := asInt(v); ok && n > 0 {
			return n
		}
	}
	return 4447
}

// ProxyHost returns the configured proxy host, defaulting to 127.0.0.1.
func (r *Router) ProxyHost() string {
	if v, ok := r.Get("proxyHost"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "127.0.0.1"
}

// DaemonLogLevel returns the log level passed to the daemon, defaulting to
// "info".
func (r *Router) DaemonLogLevel() string {
	if v, ok := r.Get("logLevel"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "info"
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}
