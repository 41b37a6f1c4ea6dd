package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"i2pmgr/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the daemon control configuration",
	Long: `Shows and edits the daemon control configuration (router.json).

Note: invalid values are still applied to the in-memory configuration but
are not persisted; the command reports the validation error.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key=value>...",
	Short: "Set configuration values",
	Long: `Sets one or more configuration values. Values are parsed as JSON where
possible (true, 4447, 0.5), and fall back to plain strings.

Examples:
  i2pmgr config set proxyPort=4447
  i2pmgr config set floodfill=true logLevel=debug`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConfigSet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(config.RouterConfigPath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func loadRouter() *config.Router {
	router := config.NewRouter(config.RouterConfigPath())
	if err := router.Load(); err != nil {
		// Missing file: defaults remain in effect.
		fmt.Println("Using default configuration (no saved file)")
	}
	return router
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	router := loadRouter()
	data, err := json.MarshalIndent(router.Configuration(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	router := loadRouter()
	cfg := router.Configuration()

	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid argument %q, expected key=value", arg)
		}
		cfg[key] = parseValue(raw)
	}

	if err := router.SetConfiguration(cfg); err != nil {
		return fmt.Errorf("configuration applied but not saved: %w", err)
	}
	fmt.Println("Configuration saved")
	return nil
}

// parseValue interprets a value as JSON (bool, number, null, quoted
// string), falling back to the raw string.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
