// Package i2p supervises a local i2pd router process: it launches and
// monitors the daemon, derives readiness from its log output, exposes the
// daemon's control API (tunnels, stats), and publishes lifecycle events.
package i2p

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"i2pmgr/internal/common"
	"i2pmgr/internal/config"
	"i2pmgr/internal/control"
)

// Options configures a Manager. Zero values select the documented defaults.
type Options struct {
	DaemonPath string // i2pd binary; resolved via LocateDaemon when empty
	DataDir    string // daemon data directory; config.DataDir() when empty

	ControlURL   string // control API base URL, default http://127.0.0.1:7650
	ControlToken string // optional bearer token

	GracefulTimeout time.Duration // wait after SIGTERM before SIGKILL (default 10s)
	KillTimeout     time.Duration // wait after SIGKILL before giving up (default 5s)
	PollInterval    time.Duration // stats poll interval while connected (default 5s)
}

func (o *Options) applyDefaults() {
	if o.DataDir == "" {
		o.DataDir = config.DataDir()
	}
	if o.ControlURL == "" {
		o.ControlURL = "http://127.0.0.1:7650"
	}
	if o.GracefulTimeout == 0 {
		o.GracefulTimeout = 10 * time.Second
	}
	if o.KillTimeout == 0 {
		o.KillTimeout = 5 * time.Second
	}
	if o.PollInterval == 0 {
		o.PollInterval = 5 * time.Second
	}
}

// Manager supervises the daemon process. One instance per running
// application, constructed by the composition root and passed by handle to
// whichever components need it.
//
// Concurrency model: a single supervisory goroutine drains a closure queue;
// process exits, output chunks, poll results and public calls are all
// marshaled onto it, so the state below has exactly one mutator. The mutex
// only makes the getters safe.
type Manager struct {
	opts Options
	cfg  *config.Router
	bus  *Bus
	ctrl *control.Client

	calls     chan func()
	quit      chan struct{}
	closeOnce sync.Once

	// Supervisory-goroutine state.
	detector  *Detector
	cmd       *exec.Cmd
	exitCh    chan error
	stopping  bool
	onExit    func() // single-shot continuation, run only on confirmed exit
	pollStop  chan struct{}
	proxyAddr string // computed at start from the configuration

	mu      sync.RWMutex
	status  Status
	lastErr string
	stats   control.NetworkStats
	tunnels map[string]control.TunnelInfo
}

// New creates a Manager and starts its supervisory goroutine. cfg is the
// daemon control configuration consulted for launch arguments and proxy
// address; it must not be nil.
func New(opts Options, cfg *config.Router) *Manager {
	opts.applyDefaults()
	m := &Manager{
		opts:    opts,
		cfg:     cfg,
		bus:     NewBus(),
		ctrl:    control.New(opts.ControlURL, opts.ControlToken),
		calls:   make(chan func(), 64),
		quit:    make(chan struct{}),
		status:  StatusDisconnected,
		tunnels: make(map[string]control.TunnelInfo),
	}
	go m.loop()
	return m
}

// Events returns the manager's event bus.
func (m *Manager) Events() *Bus { return m.bus }

// Config returns the daemon control configuration manager.
func (m *Manager) Config() *config.Router { return m.cfg }

// Status returns the current daemon status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Running reports whether the daemon is connected to the network.
func (m *Manager) Running() bool {
	return m.Status() == StatusConnected
}

// LastError returns the most recent failure description.
func (m *Manager) LastError() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Stats returns the most recently polled network statistics.
func (m *Manager) Stats() control.NetworkStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// Tunnels returns a copy of the tunnel registry, keyed by daemon-assigned
// tunnel id.
func (m *Manager) Tunnels() map[string]control.TunnelInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]control.TunnelInfo, len(m.tunnels))
	for id, t := range m.tunnels {
		out[id] = t
	}
	return out
}

// Start launches the daemon. A no-op when the daemon is already starting or
// connected. Failures are reported through the event bus and LastError.
func (m *Manager) Start() {
	m.do(m.startDaemon)
}

// Stop terminates the daemon: graceful first, forced after the graceful
// window expires. A no-op when already disconnected or stopping.
func (m *Manager) Stop() {
	m.do(m.stopDaemon)
}

// GenerateNewIdentity stops the daemon if running, deletes the
// identity-bearing files from the data directory once the process has
// actually exited, and starts the daemon again. Files are never deleted
// while the process is alive.
func (m *Manager) GenerateNewIdentity() {
	m.do(m.newIdentity)
}

// Close stops the supervisory goroutine. The daemon is not stopped; call
// Stop and wait for a terminal status first.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.quit) })
}

func (m *Manager) loop() {
	for {
		select {
		case fn := <-m.calls:
			fn()
		case <-m.quit:
			return
		}
	}
}

// do marshals fn onto the supervisory goroutine.
func (m *Manager) do(fn func()) {
	select {
	case m.calls <- fn:
	case <-m.quit:
	}
}

// --- start -----------------------------------------------------------------

func (m *Manager) startDaemon() {
	if st := m.Status(); st == StatusStarting || st == StatusConnected {
		logrus.Debugf("daemon already running or starting (status=%s)", st)
		return
	}

	path := m.opts.DaemonPath
	if path == "" {
		resolved, err := LocateDaemon()
		if err != nil {
			m.failStart(fmt.Sprintf("cannot resolve daemon path: %v", err))
			return
		}
		path = resolved
	}
	if _, err := os.Stat(path); err != nil {
		m.failStart(fmt.Sprintf("%v: %s", common.ErrBinaryNotFound, path))
		return
	}

	if err := os.MkdirAll(m.opts.DataDir, 0700); err != nil {
		m.failStart(fmt.Sprintf("cannot create data directory: %v", err))
		return
	}

	socksPort := m.cfg.SocksPort()
	m.proxyAddr = fmt.Sprintf("%s:%d", m.cfg.ProxyHost(), socksPort)

	args := []string{
		"--daemon=false",
		"--log=stdout",
		"--loglevel=" + m.cfg.DaemonLogLevel(),
		fmt.Sprintf("--socksproxy.port=%d", socksPort),
		"--datadir=" + m.opts.DataDir,
	}

	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(), "I2PD_DATADIR="+m.opts.DataDir)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		m.failStart(fmt.Sprintf("%v: %v", common.ErrProcessLaunch, err))
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		m.failStart(fmt.Sprintf("%v: %v", common.ErrProcessLaunch, err))
		return
	}

	det := NewDetector(m)
	det.SetActive(true)
	m.detector = det

	logrus.Infof("starting i2pd: %s %v", path, args)
	m.setStatus(StatusStarting)

	if err := cmd.Start(); err != nil {
		m.detector = nil
		m.failStart(fmt.Sprintf("%v: %v", common.ErrProcessLaunch, err))
		return
	}

	m.cmd = cmd
	// Stop bookkeeping is per session: a start while a previous stop is
	// still in flight must not inherit its stopping flag, and a pending
	// exit continuation must never fire under a live new process.
	m.stopping = false
	if m.onExit != nil {
		logrus.Debug("discarding pending exit continuation, superseded by new session")
		m.onExit = nil
	}
	exitCh := make(chan error, 1)
	m.exitCh = exitCh

	var readers sync.WaitGroup
	readers.Add(2)
	go m.readOutput(det, stdout, &readers)
	go m.readOutput(det, stderr, &readers)

	go func() {
		readers.Wait()
		err := cmd.Wait()
		exitCh <- err
		m.do(func() { m.onProcessExit(cmd, err) })
	}()
}

// readOutput feeds raw chunks from one pipe into the session's detector.
// The chunk hand-off runs on the supervisory goroutine; the pointer check
// drops output from a previous daemon session.
func (m *Manager) readOutput(det *Detector, r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			m.do(func() {
				if m.detector == det {
					det.Feed(chunk)
				}
			})
		}
		if err != nil {
			m.do(func() {
				if m.detector == det {
					det.Flush()
				}
			})
			return
		}
	}
}

// failStart reports a start failure: status Error plus an error event and a
// readiness failure with an empty address.
func (m *Manager) failStart(msg string) {
	logrus.Error(msg)
	m.setLastError(msg)
	m.bus.publish(Event{Type: EventError, Message: msg})
	m.setStatus(StatusError)
	m.bus.publish(Event{Type: EventReady, Success: false})
}

// --- stop ------------------------------------------------------------------

func (m *Manager) stopDaemon() {
	st := m.Status()
	if st == StatusDisconnected || st == StatusStopping {
		logrus.Debugf("daemon not running or already stopping (status=%s)", st)
		return
	}

	logrus.Info("stopping i2pd daemon")
	m.stopping = true
	if m.detector != nil {
		// Markers only matter while starting; late lines must not disturb
		// the stop sequence.
		m.detector.SetActive(false)
	}
	m.setStatus(StatusStopping)

	cmd := m.cmd
	if cmd == nil {
		// No live process (e.g. stop after a start failure): settle now.
		m.stopping = false
		m.setStatus(StatusDisconnected)
		m.bus.publish(Event{Type: EventStopped})
		m.runExitHook()
		return
	}

	go m.terminate(cmd, m.exitCh)
}

// terminate drives the two-stage bounded shutdown off the supervisory
// goroutine: graceful wait after SIGTERM, then SIGKILL with its own wait.
// When the exit is observed, onProcessExit settles the stop; only a process
// that survives both windows is abandoned via finishStop.
func (m *Manager) terminate(cmd *exec.Cmd, exitCh <-chan error) {
	// Best effort: ask the daemon to shut down over the control API before
	// signaling. Failure here just means the daemon was not listening.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := m.ctrl.Shutdown(ctx); err != nil {
		logrus.Debugf("control shutdown request failed: %v", err)
	}
	cancel()

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logrus.Debugf("SIGTERM failed: %v", err)
	}

	select {
	case <-exitCh:
		return
	case <-time.After(m.opts.GracefulTimeout):
		logrus.Warn("i2pd did not stop gracefully, killing process")
		if err := cmd.Process.Kill(); err != nil {
			logrus.Debugf("SIGKILL failed: %v", err)
		}
		select {
		case <-exitCh:
			return
		case <-time.After(m.opts.KillTimeout):
			logrus.Error("i2pd did not exit after SIGKILL, abandoning process")
			m.do(func() { m.finishStop(cmd) })
		}
	}
}

// finishStop abandons a process that survived the SIGKILL wait window. The
// daemon is marked disconnected anyway: cleanup is best-effort and must not
// hang forever.
func (m *Manager) finishStop(cmd *exec.Cmd) {
	if m.cmd != cmd {
		return // exit observed in the meantime, or a newer session took over
	}
	m.stopping = false
	m.cmd = nil
	m.detector = nil
	m.setStatus(StatusDisconnected)
	m.bus.publish(Event{Type: EventStopped})
	// The identity continuation is NOT run here: the process may still be
	// alive, and its files must never be deleted underneath it.
}

// onProcessExit is the single sink for actual process termination. It also
// settles an in-flight stop and resets the session's stop state.
func (m *Manager) onProcessExit(cmd *exec.Cmd, err error) {
	if m.cmd != cmd {
		return // stale session
	}
	logrus.Infof("i2pd exited (err=%v)", err)
	wasStopping := m.stopping
	m.stopping = false
	m.cmd = nil
	m.detector = nil

	if err != nil && !wasStopping {
		msg := fmt.Sprintf("%v: %v", common.ErrProcessCrash, err)
		m.setLastError(msg)
		m.bus.publish(Event{Type: EventError, Message: msg})
		m.setStatus(StatusError)
	} else if m.Status() != StatusError {
		m.setStatus(StatusDisconnected)
	}
	m.bus.publish(Event{Type: EventStopped})

	m.runExitHook()
}

// runExitHook fires the pending single-shot continuation, if any.
func (m *Manager) runExitHook() {
	if hook := m.onExit; hook != nil {
		m.onExit = nil
		hook()
	}
}

// --- identity --------------------------------------------------------------

// Identity-bearing entries under the data directory. Removed on
// GenerateNewIdentity, only after the process has exited.
var identityEntries = []string{"netDb", "router", "router.keys"}

func (m *Manager) newIdentity() {
	logrus.Info("generating new i2p identity")
	if m.cmd != nil {
		// Delete-then-restart must wait for the actual exit event; a timer
		// here could race a live process still holding the files open.
		m.onExit = m.wipeAndRestart
		m.stopDaemon()
		return
	}
	m.wipeAndRestart()
}

func (m *Manager) wipeAndRestart() {
	for _, name := range identityEntries {
		path := filepath.Join(m.opts.DataDir, name)
		if err := os.RemoveAll(path); err != nil {
			logrus.Warnf("failed to remove %s: %v", path, err)
		} else {
			logrus.Debugf("removed %s", path)
		}
	}
	logrus.Info("i2p identity files removed, restarting daemon")
	m.startDaemon()
}

// --- detector sink ---------------------------------------------------------

// DaemonReady implements DetectorSink: both readiness markers seen.
func (m *Manager) DaemonReady() {
	if m.Status() != StatusStarting {
		return
	}
	m.setStatus(StatusConnected)
	logrus.Infof("i2pd fully ready, SOCKS proxy at %s", m.proxyAddr)
	m.bus.publish(Event{Type: EventReady, Success: true, ProxyAddress: m.proxyAddr})
}

// DaemonFailed implements DetectorSink.
func (m *Manager) DaemonFailed(line string, stopProcess bool) {
	var msg string
	if stopProcess {
		msg = "i2p port already in use, stop other i2p instances: " + line
	} else {
		msg = "i2pd reported a fatal condition: " + line
	}
	logrus.Error(msg)
	m.setLastError(msg)
	m.bus.publish(Event{Type: EventError, Message: msg})
	m.setStatus(StatusError)
	if stopProcess {
		m.bus.publish(Event{Type: EventReady, Success: false})
		m.stopDaemon()
	}
}

// DaemonShutdown implements DetectorSink: the daemon terminated itself
// outside an explicit Stop.
func (m *Manager) DaemonShutdown(line string) {
	logrus.Infof("i2pd reported shutdown: %s", line)
	m.setStatus(StatusDisconnected)
}

// --- status ----------------------------------------------------------------

// setStatus is the single place the current status changes. Notifications
// fire only on actual change; the derived running flag only when it flips.
func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	prev := m.status
	if prev == s {
		m.mu.Unlock()
		return
	}
	m.status = s
	m.mu.Unlock()

	logrus.Debugf("status %s -> %s", prev, s)
	m.bus.publish(Event{Type: EventStatusChanged, Status: s})

	wasRunning := prev == StatusConnected
	isRunning := s == StatusConnected
	if wasRunning != isRunning {
		m.bus.publish(Event{Type: EventRunningChanged, Running: isRunning})
	}

	if isRunning {
		m.startPolling()
	} else {
		m.stopPolling()
	}
}

func (m *Manager) setLastError(msg string) {
	m.mu.Lock()
	m.lastErr = msg
	m.mu.Unlock()
}

// reportError records and publishes a failure without touching the status.
// Used for control-API failures, which are transient by contract.
func (m *Manager) reportError(msg string) {
	logrus.Warn(msg)
	m.do(func() {
		m.setLastError(msg)
		m.bus.publish(Event{Type: EventError, Message: msg})
	})
}

// --- stats polling ---------------------------------------------------------

func (m *Manager) startPolling() {
	if m.pollStop != nil {
		return
	}
	stop := make(chan struct{})
	m.pollStop = stop
	go m.pollLoop(stop)
}

func (m *Manager) stopPolling() {
	if m.pollStop != nil {
		close(m.pollStop)
		m.pollStop = nil
	}
}

// pollLoop periodically fetches status and tunnels while connected. A poll
// failure is logged and retried at the next tick; it never mutates the
// daemon status.
func (m *Manager) pollLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.pollOnce()
		}
	}
}

func (m *Manager) pollOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.PollInterval)
	defer cancel()

	stats, err := m.ctrl.Status(ctx)
	if err != nil {
		m.reportError(fmt.Sprintf("status poll failed: %v", err))
	} else {
		m.do(func() { m.applyStats(*stats) })
	}

	tunnels, err := m.ctrl.Tunnels(ctx)
	if err != nil {
		m.reportError(fmt.Sprintf("tunnel poll failed: %v", err))
	} else {
		m.do(func() { m.applyTunnels(tunnels) })
	}
}

// applyStats replaces the statistics wholesale (never a partial update).
func (m *Manager) applyStats(stats control.NetworkStats) {
	if m.Status() != StatusConnected {
		return // stale result from a poll that outlived the session
	}
	m.mu.Lock()
	changed := m.stats != stats
	m.stats = stats
	m.mu.Unlock()
	if changed {
		m.bus.publish(Event{Type: EventStatsChanged, Stats: &stats})
	}
}
