package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"i2pmgr/internal/config"
	"i2pmgr/internal/control"
)

var tunnelCmd = &cobra.Command{
	Use:   "tunnel",
	Short: "Manage daemon tunnels",
	Long:  `Commands for listing and configuring tunnels on the running daemon.`,
}

var tunnelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured tunnels",
	Args:  cobra.NoArgs,
	RunE:  runTunnelList,
}

var tunnelCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a tunnel",
	Long: `Creates a tunnel on the daemon.

Examples:
  # Local HTTP proxy tunnel on port 4444
  i2pmgr tunnel create web --type HTTP --port 4444

  # Client tunnel to a remote destination
  i2pmgr tunnel create irc --type Client --port 6668 --target irc.ilita.i2p --target-port 6667`,
	Args: cobra.ExactArgs(1),
	RunE: runTunnelCreate,
}

var tunnelDestroyCmd = &cobra.Command{
	Use:   "destroy <id>",
	Short: "Destroy a tunnel",
	Args:  cobra.ExactArgs(1),
	RunE:  runTunnelDestroy,
}

var tunnelEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a tunnel",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runTunnelToggle(cmd, args[0], true) },
}

var tunnelDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a tunnel",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runTunnelToggle(cmd, args[0], false) },
}

var (
	tunnelType       string
	tunnelPort       int
	tunnelTarget     string
	tunnelTargetPort int
	tunnelDisabled   bool
)

func init() {
	tunnelCreateCmd.Flags().StringVar(&tunnelType, "type", "HTTP", "Tunnel type: HTTP, SOCKS, Client")
	tunnelCreateCmd.Flags().IntVar(&tunnelPort, "port", 0, "Local port")
	tunnelCreateCmd.Flags().StringVar(&tunnelTarget, "target", "", "Target host (Client tunnels)")
	tunnelCreateCmd.Flags().IntVar(&tunnelTargetPort, "target-port", 0, "Target port (Client tunnels)")
	tunnelCreateCmd.Flags().BoolVar(&tunnelDisabled, "disabled", false, "Create the tunnel disabled")
	tunnelCreateCmd.MarkFlagRequired("port")

	tunnelCmd.AddCommand(tunnelListCmd)
	tunnelCmd.AddCommand(tunnelCreateCmd)
	tunnelCmd.AddCommand(tunnelDestroyCmd)
	tunnelCmd.AddCommand(tunnelEnableCmd)
	tunnelCmd.AddCommand(tunnelDisableCmd)
	rootCmd.AddCommand(tunnelCmd)
}

func controlClient() (*control.Client, error) {
	settings, err := config.LoadSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return control.New(settings.ControlURL, settings.ControlToken), nil
}

func controlContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 10*time.Second)
}

func runTunnelList(cmd *cobra.Command, args []string) error {
	client, err := controlClient()
	if err != nil {
		return err
	}
	ctx, cancel := controlContext(cmd)
	defer cancel()

	tunnels, err := client.Tunnels(ctx)
	if err != nil {
		return fmt.Errorf("daemon not reachable: %w", err)
	}
	if len(tunnels) == 0 {
		fmt.Println("No tunnels configured")
		return nil
	}
	fmt.Printf("%-10s %-16s %-8s %-6s %-8s %s\n", "ID", "NAME", "TYPE", "PORT", "ENABLED", "STATUS")
	for _, t := range tunnels {
		fmt.Printf("%-10s %-16s %-8s %-6d %-8v %s\n", t.ID, t.Name, t.Type, t.LocalPort, t.Enabled, t.Status)
	}
	return nil
}

func runTunnelCreate(cmd *cobra.Command, args []string) error {
	client, err := controlClient()
	if err != nil {
		return err
	}
	ctx, cancel := controlContext(cmd)
	defer cancel()

	command := fmt.Sprintf("tunnel.create name=%s type=%s port=%d", args[0], tunnelType, tunnelPort)
	if tunnelTarget != "" {
		command += fmt.Sprintf(" target=%s targetport=%d", tunnelTarget, tunnelTargetPort)
	}
	if tunnelDisabled {
		command += " enabled=false"
	}
	if err := client.Command(ctx, command); err != nil {
		return err
	}
	fmt.Printf("Created tunnel %s\n", args[0])
	return nil
}

func runTunnelDestroy(cmd *cobra.Command, args []string) error {
	client, err := controlClient()
	if err != nil {
		return err
	}
	ctx, cancel := controlContext(cmd)
	defer cancel()

	if err := client.Command(ctx, "tunnel.destroy id="+args[0]); err != nil {
		return err
	}
	fmt.Printf("Destroyed tunnel %s\n", args[0])
	return nil
}

func runTunnelToggle(cmd *cobra.Command, id string, enabled bool) error {
	client, err := controlClient()
	if err != nil {
		return err
	}
	ctx, cancel := controlContext(cmd)
	defer cancel()

	verb := "tunnel.disable"
	state := "Disabled"
	if enabled {
		verb = "tunnel.enable"
		state = "Enabled"
	}
	if err := client.Command(ctx, verb+" id="+id); err != nil {
		return err
	}
	fmt.Printf("%s tunnel %s\n", state, id)
	return nil
}
