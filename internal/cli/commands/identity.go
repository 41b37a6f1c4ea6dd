package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"i2pmgr/internal/config"
	"i2pmgr/internal/util"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage the daemon's network identity",
}

var identityNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Delete the daemon's identity files",
	Long: `Deletes the identity-bearing files (netDb, router keys) from the data
directory so the daemon generates a fresh identity on its next start.

Refuses to run while a supervisor is active: the running daemon holds these
files open and deleting them underneath it would corrupt its state. Use the
supervisor's own new-identity operation instead, or stop it first.`,
	Args: cobra.NoArgs,
	RunE: runIdentityNew,
}

func init() {
	identityCmd.AddCommand(identityNewCmd)
	rootCmd.AddCommand(identityCmd)
}

func runIdentityNew(cmd *cobra.Command, args []string) error {
	if pid, err := readPidFile(); err == nil && util.IsProcessRunning(pid) {
		return fmt.Errorf("a supervisor is running (PID %d); stop it before deleting identity files", pid)
	}

	dataDir := config.DataDir()
	for _, name := range []string{"netDb", "router", "router.keys"} {
		path := filepath.Join(dataDir, name)
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	fmt.Println("Identity files removed; a new identity will be generated on next start")
	return nil
}
