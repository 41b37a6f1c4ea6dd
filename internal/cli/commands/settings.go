package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"i2pmgr/internal/config"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage global supervisor settings",
	Long: `Shows and edits the supervisor's own settings (settings.yaml): log level,
daemon binary override, control API endpoint and token, and the stats poll
interval. These are distinct from the daemon control configuration managed
by 'i2pmgr config'.

A running supervisor picks up log level changes live; other settings take
effect on its next start.`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a settings value",
	Long: `Sets a single settings value and persists it.

Keys:
  log-level      trace, debug, info, warn, none
  daemon-path    path to the i2pd binary ("" to auto-detect)
  control-url    base URL of the daemon control API
  control-token  bearer token for the control API ("" for none)
  poll-interval  stats poll interval in seconds`,
	Args: cobra.ExactArgs(2),
	RunE: runSettingsSet,
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	settings, err := config.LoadSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	token := "(none)"
	if settings.ControlToken != "" {
		token = "(set)"
	}
	daemonPath := settings.DaemonPath
	if daemonPath == "" {
		daemonPath = "(auto-detect)"
	}
	fmt.Printf("log-level:     %s\n", settings.LogLevel)
	fmt.Printf("daemon-path:   %s\n", daemonPath)
	fmt.Printf("control-url:   %s\n", settings.ControlURL)
	fmt.Printf("control-token: %s\n", token)
	fmt.Printf("poll-interval: %ds\n", settings.PollInterval)
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	settings, err := config.LoadSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	key, value := args[0], args[1]
	switch key {
	case "log-level":
		switch value {
		case "trace", "debug", "info", "warn", "none":
		default:
			return fmt.Errorf("invalid log level %q, expected trace, debug, info, warn or none", value)
		}
		settings.LogLevel = value
	case "daemon-path":
		settings.DaemonPath = value
	case "control-url":
		settings.ControlURL = value
	case "control-token":
		settings.ControlToken = value
	case "poll-interval":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid poll interval %q, expected a positive number of seconds", value)
		}
		settings.PollInterval = n
	default:
		return fmt.Errorf("unknown settings key %q", key)
	}

	if err := config.SaveSettings(settings); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	fmt.Printf("Set %s = %s\n", key, value)
	return nil
}
