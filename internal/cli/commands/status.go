package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"i2pmgr/internal/config"
	"i2pmgr/internal/control"
	"i2pmgr/internal/util"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show supervisor and daemon status",
	Long:  `Shows whether a supervisor is running and, if the daemon is reachable, its network statistics.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if pid, err := readPidFile(); err == nil && util.IsProcessRunning(pid) {
		fmt.Printf("Supervisor:     running (PID %d)\n", pid)
	} else {
		fmt.Println("Supervisor:     not running")
	}

	settings, err := config.LoadSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	client := control.New(settings.ControlURL, settings.ControlToken)
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	stats, err := client.Status(ctx)
	if err != nil {
		fmt.Println("Daemon:         not reachable")
		return nil
	}

	fmt.Println("Daemon:         connected")
	fmt.Printf("Network ID:     %s\n", stats.NetworkID)
	fmt.Printf("Peers:          %d\n", stats.PeersCount)
	fmt.Printf("Active tunnels: %d\n", stats.ActiveTunnels)
	fmt.Printf("Bandwidth:      in %d B/s, out %d B/s\n", stats.InboundBandwidth, stats.OutboundBandwidth)
	fmt.Printf("Anonymity:      %.0f%%\n", stats.AnonymityLevel*100)
	fmt.Printf("Floodfill:      %v\n", stats.FloodfillEnabled)
	return nil
}

func readPidFile() (int, error) {
	data, err := os.ReadFile(config.PidPath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}
