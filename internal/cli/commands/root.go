// Copyright 2026 i2pmgr Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"i2pmgr/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersion sets the version info for --version flag
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

// getVersionString returns the version string with build info
func getVersionString() string {
	buildDate := formatBuildDate(date)
	if strings.HasSuffix(version, "-dev") {
		// Dev build: include epoch and commit for troubleshooting
		return fmt.Sprintf("%s (%s, epoch: %s, commit: %s)", version, buildDate, date, commit)
	}
	// Prod build: version with date
	return fmt.Sprintf("%s (%s)", version, buildDate)
}

// formatBuildDate converts epoch timestamp to readable date
func formatBuildDate(epoch string) string {
	ts, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return epoch
	}
	return time.Unix(ts, 0).Format("2006-01-02")
}

var rootCmd = &cobra.Command{
	Use:   "i2pmgr",
	Short: "Supervisor for the i2pd anonymizing router",
	Long: `Supervisor for a local i2pd router process: launches and monitors the
daemon, detects network readiness from its log output, and exposes its
control API (tunnels, configuration, statistics).`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if err := config.EnsureDir(); err != nil {
			return fmt.Errorf("failed to initialize config directory: %w", err)
		}
		applyLogSettings()
		return nil
	},
}

// applyLogSettings sets the logrus level from the global settings.
func applyLogSettings() {
	settings, err := config.LoadSettings()
	if err != nil {
		return
	}
	SetLogLevel(settings.LogLevel)
}

// SetLogLevel applies a settings log level name to logrus (case
// insensitive). "none" silences everything below panic.
func SetLogLevel(level string) {
	switch strings.ToLower(level) {
	case "trace":
		logrus.SetLevel(logrus.TraceLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "none", "":
		logrus.SetLevel(logrus.PanicLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("i2pmgr version {{.Version}}\n")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
