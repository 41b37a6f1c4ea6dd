package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"i2pmgr/internal/config"
	"i2pmgr/internal/i2p"
	"i2pmgr/internal/util"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the supervisor in the foreground",
	Long: `Starts the i2pd daemon and supervises it until interrupted.

The supervisor watches the daemon's log output for readiness markers, polls
its control API for statistics while connected, and shuts the daemon down
gracefully on SIGINT/SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	settings, err := config.LoadSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	// Exactly one supervisor per config dir; two supervisors would fight
	// over the same daemon data directory.
	lock := flock.New(config.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another i2pmgr instance is already running")
	}
	defer lock.Unlock()

	if err := setupLogging(settings.LogLevel); err != nil {
		return err
	}

	if err := writePidFile(); err != nil {
		return err
	}
	defer os.Remove(config.PidPath())

	logrus.Infof("i2pmgr started (PID %d)", os.Getpid())

	router := config.NewRouter(config.RouterConfigPath())
	if err := router.Load(); err != nil {
		// Missing or bad file: run with defaults, persist them for next time.
		logrus.Debugf("router config not loaded, using defaults: %v", err)
		if err := router.Save(); err != nil {
			logrus.Warnf("failed to persist default router config: %v", err)
		}
	}

	mgr := i2p.New(i2p.Options{
		DaemonPath:   settings.DaemonPath,
		ControlURL:   settings.ControlURL,
		ControlToken: settings.ControlToken,
		PollInterval: time.Duration(settings.PollInterval) * time.Second,
	}, router)
	defer mgr.Close()

	subID, events := mgr.Events().Subscribe(64)
	defer mgr.Events().Unsubscribe(subID)
	go logEvents(events)

	// Live log-level reload on settings changes.
	stopWatch, err := config.WatchSettings(func(s *config.Settings) {
		logrus.Infof("settings reloaded, log level: %s", s.LogLevel)
		SetLogLevel(s.LogLevel)
	})
	if err != nil {
		logrus.Warnf("settings watcher unavailable: %v", err)
	} else {
		defer stopWatch()
	}

	mgr.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logrus.Infof("received signal %v, shutting down", sig)

	mgr.Stop()
	if err := util.PollUntil(context.Background(), util.ShutdownPollConfig(), func() bool {
		st := mgr.Status()
		return st == i2p.StatusDisconnected || st == i2p.StatusError
	}); err != nil {
		logrus.Warn("timeout waiting for daemon shutdown")
	}

	logrus.Info("i2pmgr stopped")
	return nil
}

// logEvents mirrors manager events into the supervisor log.
func logEvents(events <-chan i2p.Event) {
	for ev := range events {
		switch ev.Type {
		case i2p.EventStatusChanged:
			logrus.Infof("daemon status: %s", ev.Status)
		case i2p.EventReady:
			if ev.Success {
				logrus.Infof("i2p ready, SOCKS proxy at %s", ev.ProxyAddress)
			} else {
				logrus.Warn("i2p failed to become ready")
			}
		case i2p.EventError:
			logrus.Warnf("daemon error: %s", ev.Message)
		case i2p.EventStopped:
			logrus.Info("daemon stopped")
		}
	}
}

// setupLogging routes logrus to stderr plus the supervisor log file, with
// the file truncated when it grows past the cap.
func setupLogging(level string) error {
	SetLogLevel(level)

	if err := truncateLogFile(10 * 1024 * 1024); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to truncate log file: %v\n", err)
	}
	logFile, err := os.OpenFile(config.LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	logrus.SetOutput(io.MultiWriter(os.Stderr, logFile))
	return nil
}

// truncateLogFile truncates the log file if it exceeds maxSize bytes.
// It keeps the last half of the file content to preserve recent logs.
func truncateLogFile(maxSize int64) error {
	logPath := config.LogPath()

	info, err := os.Stat(logPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() <= maxSize {
		return nil
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		return err
	}

	keepSize := len(data) / 2
	startIdx := len(data) - keepSize
	// Find the next newline to avoid cutting a line in the middle
	for i := startIdx; i < len(data); i++ {
		if data[i] == '\n' {
			startIdx = i + 1
			break
		}
	}

	truncated := data[startIdx:]
	header := []byte(fmt.Sprintf("--- Log truncated at %s (kept last %d bytes) ---\n",
		time.Now().Format(time.RFC3339), len(truncated)))
	return os.WriteFile(logPath, append(header, truncated...), 0600)
}

func writePidFile() error {
	return os.WriteFile(config.PidPath(), []byte(strconv.Itoa(os.Getpid())), 0600)
}
