package i2p

import (
	"os"
	"path/filepath"
	"runtime"
)

// locateRule describes where the i2pd binary lives relative to our own
// executable on a given platform.
type locateRule struct {
	subdir string // relative directory, e.g. ".." for macOS app bundles
	binary string
}

var locateRules = map[string]locateRule{
	"linux":   {binary: "i2pd"},
	"darwin":  {subdir: "..", binary: "i2pd"}, // Contents/MacOS layout
	"windows": {binary: "i2pd.exe"},
}

// LocateDaemon resolves the platform-specific path of the i2pd binary.
// The I2PMGR_DAEMON env var overrides the lookup. The path is not required
// to exist; Manager.Start reports ErrBinaryNotFound when it doesn't.
func LocateDaemon() (string, error) {
	if p := os.Getenv("I2PMGR_DAEMON"); p != "" {
		return p, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return "", err
	}

	rule, ok := locateRules[runtime.GOOS]
	if !ok {
		rule = locateRules["linux"]
	}
	return filepath.Join(filepath.Dir(exe), rule.subdir, rule.binary), nil
}
