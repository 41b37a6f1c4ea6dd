package i2p

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i2pmgr/internal/common"
	"i2pmgr/internal/config"
	"i2pmgr/internal/control"
)

// writeScript writes a fake daemon shell script and returns its path.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "i2pd")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

// readyScript emits both readiness markers and then idles until SIGTERM.
const readyScript = `echo "SOCKS proxy started"
echo "Network status: OK"
trap 'exit 0' TERM
while true; do sleep 0.1; done
`

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	t.Setenv("I2PMGR_CONFIG_DIR", t.TempDir())
	if opts.DataDir == "" {
		opts.DataDir = t.TempDir()
	}
	if opts.GracefulTimeout == 0 {
		opts.GracefulTimeout = 2 * time.Second
	}
	if opts.KillTimeout == 0 {
		opts.KillTimeout = 2 * time.Second
	}
	if opts.PollInterval == 0 {
		// Keep the poller quiet unless the test exercises it.
		opts.PollInterval = time.Hour
	}

	router := config.NewRouter(filepath.Join(t.TempDir(), "router.json"))
	m := New(opts, router)
	t.Cleanup(func() {
		m.Stop()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			st := m.Status()
			if st == StatusDisconnected || st == StatusError {
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
		m.Close()
	})
	return m
}

// eventLog records bus events for later inspection.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func watchEvents(t *testing.T, m *Manager) *eventLog {
	t.Helper()
	id, ch := m.Events().Subscribe(256)
	t.Cleanup(func() { m.Events().Unsubscribe(id) })
	log := &eventLog{}
	go func() {
		for ev := range ch {
			log.mu.Lock()
			log.events = append(log.events, ev)
			log.mu.Unlock()
		}
	}()
	return log
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) find(typ EventType) (Event, bool) {
	for _, ev := range l.snapshot() {
		if ev.Type == typ {
			return ev, true
		}
	}
	return Event{}, false
}

func (l *eventLog) count(typ EventType) int {
	n := 0
	for _, ev := range l.snapshot() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestManagerStartStopLifecycle(t *testing.T) {
	g := NewWithT(t)
	m := newTestManager(t, Options{DaemonPath: writeScript(t, readyScript)})
	log := watchEvents(t, m)

	m.Start()
	g.Eventually(m.Status, "5s", "20ms").Should(Equal(StatusConnected))
	assert.True(t, m.Running())

	g.Eventually(func() bool {
		ev, ok := log.find(EventReady)
		return ok && ev.Success && ev.ProxyAddress == "127.0.0.1:4447"
	}, "2s", "20ms").Should(BeTrue(), "successful ready event with proxy address expected")

	// Status walked through starting before connected.
	var statuses []Status
	for _, ev := range log.snapshot() {
		if ev.Type == EventStatusChanged {
			statuses = append(statuses, ev.Status)
		}
	}
	assert.Equal(t, []Status{StatusStarting, StatusConnected}, statuses)

	g.Eventually(func() bool {
		ev, ok := log.find(EventRunningChanged)
		return ok && ev.Running
	}, "2s", "20ms").Should(BeTrue())

	m.Stop()
	g.Eventually(m.Status, "5s", "20ms").Should(Equal(StatusDisconnected))
	assert.False(t, m.Running())

	g.Eventually(func() bool {
		_, ok := log.find(EventStopped)
		return ok
	}, "2s", "20ms").Should(BeTrue(), "stopped event expected")
	g.Eventually(func() int { return log.count(EventRunningChanged) }, "2s", "20ms").Should(Equal(2))
}

func TestManagerStartMissingBinary(t *testing.T) {
	g := NewWithT(t)
	m := newTestManager(t, Options{DaemonPath: filepath.Join(t.TempDir(), "no-such-i2pd")})
	log := watchEvents(t, m)

	m.Start()
	g.Eventually(m.Status, "2s", "20ms").Should(Equal(StatusError))
	assert.Contains(t, m.LastError(), "daemon binary not found")

	g.Eventually(func() bool {
		ev, ok := log.find(EventReady)
		return ok && !ev.Success && ev.ProxyAddress == ""
	}, "2s", "20ms").Should(BeTrue(), "readiness failure with empty address expected")

	_, hasErr := log.find(EventError)
	assert.True(t, hasErr)
}

func TestManagerDoubleStartSpawnsOneProcess(t *testing.T) {
	g := NewWithT(t)
	pidFile := filepath.Join(t.TempDir(), "pids")
	script := fmt.Sprintf("echo $$ >> %s\n%s", pidFile, readyScript)
	m := newTestManager(t, Options{DaemonPath: writeScript(t, script)})

	m.Start()
	m.Start()
	g.Eventually(m.Status, "5s", "20ms").Should(Equal(StatusConnected))
	m.Start() // connected: still a no-op

	g.Consistently(func() int {
		data, err := os.ReadFile(pidFile)
		if err != nil {
			return 0
		}
		return len(strings.Fields(string(data)))
	}, "300ms", "50ms").Should(Equal(1), "exactly one daemon process expected")
}

func TestManagerCrashDetection(t *testing.T) {
	g := NewWithT(t)
	m := newTestManager(t, Options{DaemonPath: writeScript(t, "echo \"starting up\"\nexit 3\n")})
	log := watchEvents(t, m)

	m.Start()
	g.Eventually(m.Status, "5s", "20ms").Should(Equal(StatusError))
	assert.Contains(t, m.LastError(), "daemon crashed")

	_, hasErr := log.find(EventError)
	assert.True(t, hasErr)
	g.Eventually(func() bool {
		_, ok := log.find(EventStopped)
		return ok
	}, "2s", "20ms").Should(BeTrue())
}

func TestManagerPortConflict(t *testing.T) {
	g := NewWithT(t)
	script := `echo "error - Address already in use"
trap 'exit 0' TERM
while true; do sleep 0.1; done
`
	m := newTestManager(t, Options{DaemonPath: writeScript(t, script)})
	log := watchEvents(t, m)

	m.Start()
	// Failure stops the process; the sequence settles at disconnected.
	g.Eventually(m.Status, "10s", "20ms").Should(Equal(StatusDisconnected))
	assert.Contains(t, m.LastError(), "port already in use")

	ready, ok := log.find(EventReady)
	require.True(t, ok)
	assert.False(t, ready.Success)
}

func TestManagerSelfShutdown(t *testing.T) {
	g := NewWithT(t)
	m := newTestManager(t, Options{DaemonPath: writeScript(t, "echo \"Shutdown complete\"\nexit 0\n")})

	m.Start()
	g.Eventually(m.Status, "5s", "20ms").Should(Equal(StatusDisconnected))
	assert.Empty(t, m.LastError(), "self-shutdown is not an error")
}

func TestManagerForcedKill(t *testing.T) {
	g := NewWithT(t)
	script := `trap '' TERM
echo "SOCKS proxy started"
echo "Network status: OK"
while true; do sleep 0.1; done
`
	m := newTestManager(t, Options{
		DaemonPath:      writeScript(t, script),
		GracefulTimeout: 100 * time.Millisecond,
		KillTimeout:     2 * time.Second,
	})

	m.Start()
	g.Eventually(m.Status, "5s", "20ms").Should(Equal(StatusConnected))

	m.Stop()
	g.Eventually(m.Status, "1s", "20ms").Should(Equal(StatusStopping))
	g.Eventually(m.Status, "5s", "20ms").Should(Equal(StatusDisconnected))
}

func TestManagerStopWhenDisconnected(t *testing.T) {
	g := NewWithT(t)
	m := newTestManager(t, Options{DaemonPath: writeScript(t, readyScript)})
	log := watchEvents(t, m)

	m.Stop()
	g.Consistently(func() int { return len(log.snapshot()) }, "300ms", "50ms").Should(BeZero(),
		"stop while disconnected must be a silent no-op")
	assert.Equal(t, StatusDisconnected, m.Status())
}

// seedIdentity creates the identity-bearing entries in the data directory.
func seedIdentity(t *testing.T, dataDir string) []string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "netDb", "r0"), 0700))
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "router"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "router.keys"), []byte("keys"), 0600))
	return []string{
		filepath.Join(dataDir, "netDb"),
		filepath.Join(dataDir, "router"),
		filepath.Join(dataDir, "router.keys"),
	}
}

// identityGone reports whether every identity entry has been removed.
func identityGone(paths []string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			return false
		}
	}
	return true
}

func TestManagerGenerateNewIdentity(t *testing.T) {
	t.Run("while running", func(t *testing.T) {
		g := NewWithT(t)
		dataDir := t.TempDir()
		paths := seedIdentity(t, dataDir)
		m := newTestManager(t, Options{DaemonPath: writeScript(t, readyScript), DataDir: dataDir})

		m.Start()
		g.Eventually(m.Status, "5s", "20ms").Should(Equal(StatusConnected))

		m.GenerateNewIdentity()
		g.Eventually(func() bool { return identityGone(paths) }, "10s", "20ms").
			Should(BeTrue(), "identity files should be removed")
		g.Eventually(m.Status, "5s", "20ms").Should(Equal(StatusConnected), "daemon should restart")
	})

	t.Run("while stopped", func(t *testing.T) {
		g := NewWithT(t)
		dataDir := t.TempDir()
		paths := seedIdentity(t, dataDir)
		m := newTestManager(t, Options{DaemonPath: writeScript(t, readyScript), DataDir: dataDir})

		m.GenerateNewIdentity()
		g.Eventually(func() bool { return identityGone(paths) }, "5s", "20ms").Should(BeTrue())
		g.Eventually(m.Status, "5s", "20ms").Should(Equal(StatusConnected))
	})
}

func TestManagerIdentityWipeWaitsForExit(t *testing.T) {
	g := NewWithT(t)
	dataDir := t.TempDir()
	paths := seedIdentity(t, dataDir)
	// The daemon lingers for half a second after SIGTERM before exiting.
	script := `echo "SOCKS proxy started"
echo "Network status: OK"
trap 'sleep 0.5; exit 0' TERM
while true; do sleep 0.1; done
`
	m := newTestManager(t, Options{DaemonPath: writeScript(t, script), DataDir: dataDir})

	m.Start()
	g.Eventually(m.Status, "5s", "20ms").Should(Equal(StatusConnected))

	m.GenerateNewIdentity()
	g.Consistently(func() bool {
		for _, p := range paths {
			if _, err := os.Stat(p); err != nil {
				return false
			}
		}
		return true
	}, "300ms", "20ms").Should(BeTrue(), "identity files must survive until the process has exited")

	g.Eventually(func() bool { return identityGone(paths) }, "10s", "20ms").Should(BeTrue())
	g.Eventually(m.Status, "5s", "20ms").Should(Equal(StatusConnected))
}

func TestManagerRepeatedIdentityRegeneration(t *testing.T) {
	g := NewWithT(t)
	dataDir := t.TempDir()
	m := newTestManager(t, Options{DaemonPath: writeScript(t, readyScript), DataDir: dataDir})

	m.Start()
	g.Eventually(m.Status, "5s", "20ms").Should(Equal(StatusConnected))

	// The wipe continuation must fire on every graceful exit, never be
	// dropped by the stop bookkeeping.
	for i := 0; i < 3; i++ {
		paths := seedIdentity(t, dataDir)
		m.GenerateNewIdentity()
		g.Eventually(func() bool { return identityGone(paths) }, "10s", "20ms").
			Should(BeTrue(), "cycle %d: identity files should be removed", i)
		g.Eventually(m.Status, "5s", "20ms").Should(Equal(StatusConnected), "cycle %d: daemon should restart", i)
	}
}

func TestManagerCrashDuringPreviousStop(t *testing.T) {
	g := NewWithT(t)
	marker := filepath.Join(t.TempDir(), "first-run")
	// First run ignores SIGTERM so the stop stays in flight; the second run
	// exits abnormally right away.
	script := fmt.Sprintf(`if [ -f %s ]; then
  echo "second run"
  exit 3
fi
touch %s
trap '' TERM
echo "SOCKS proxy started"
echo "Network status: OK"
while true; do sleep 0.1; done
`, marker, marker)
	m := newTestManager(t, Options{
		DaemonPath:      writeScript(t, script),
		GracefulTimeout: 1 * time.Second,
		KillTimeout:     2 * time.Second,
	})
	log := watchEvents(t, m)

	m.Start()
	g.Eventually(m.Status, "5s", "20ms").Should(Equal(StatusConnected))

	m.Stop()
	g.Eventually(m.Status, "1s", "10ms").Should(Equal(StatusStopping))

	// A new session while the previous stop is still in flight starts with
	// clean stop state; its crash must be classified as a crash.
	m.Start()
	g.Eventually(m.Status, "5s", "20ms").Should(Equal(StatusError))
	assert.Contains(t, m.LastError(), "daemon crashed")
	_, hasErr := log.find(EventError)
	assert.True(t, hasErr)
}

// controlStub is a mutable fake of the daemon control API.
type controlStub struct {
	mu       sync.Mutex
	stats    control.NetworkStats
	tunnels  []control.TunnelInfo
	commands []string
}

func (s *controlStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		json.NewEncoder(w).Encode(s.stats)
	})
	mux.HandleFunc("/api/tunnels", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"tunnels": s.tunnels})
	})
	mux.HandleFunc("/api/command", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Command string `json:"command"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.commands = append(s.commands, req.Command)
	})
	return mux
}

func (s *controlStub) setStats(stats control.NetworkStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = stats
}

func (s *controlStub) setTunnels(tunnels []control.TunnelInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tunnels = tunnels
}

func (s *controlStub) commandLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func TestManagerStatsPolling(t *testing.T) {
	g := NewWithT(t)
	stub := &controlStub{stats: control.NetworkStats{PeersCount: 42, NetworkID: "i2p", ActiveTunnels: 1}}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	m := newTestManager(t, Options{
		DaemonPath:   writeScript(t, readyScript),
		ControlURL:   srv.URL,
		PollInterval: 50 * time.Millisecond,
	})
	log := watchEvents(t, m)

	m.Start()
	g.Eventually(m.Status, "5s", "20ms").Should(Equal(StatusConnected))

	g.Eventually(func() int { return m.Stats().PeersCount }, "5s", "20ms").Should(Equal(42))
	g.Eventually(func() bool {
		ev, ok := log.find(EventStatsChanged)
		return ok && ev.Stats.PeersCount == 42
	}, "2s", "20ms").Should(BeTrue())

	// Unchanged polls publish nothing further.
	before := log.count(EventStatsChanged)
	g.Consistently(func() int { return log.count(EventStatsChanged) }, "300ms", "50ms").Should(Equal(before))

	stub.setStats(control.NetworkStats{PeersCount: 50, NetworkID: "i2p", ActiveTunnels: 1})
	g.Eventually(func() int { return m.Stats().PeersCount }, "5s", "20ms").Should(Equal(50))
}

func TestManagerTunnelPollingDiffs(t *testing.T) {
	g := NewWithT(t)
	stub := &controlStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	m := newTestManager(t, Options{
		DaemonPath:   writeScript(t, readyScript),
		ControlURL:   srv.URL,
		PollInterval: 50 * time.Millisecond,
	})
	log := watchEvents(t, m)

	m.Start()
	g.Eventually(m.Status, "5s", "20ms").Should(Equal(StatusConnected))

	stub.setTunnels([]control.TunnelInfo{{ID: "t1", Name: "web", Type: "HTTP", LocalPort: 4444, Enabled: true, Status: "building"}})
	g.Eventually(func() int { return len(m.Tunnels()) }, "5s", "20ms").Should(Equal(1))
	g.Eventually(func() bool {
		ev, ok := log.find(EventTunnelCreated)
		return ok && ev.Tunnel.ID == "t1"
	}, "2s", "20ms").Should(BeTrue())

	stub.setTunnels([]control.TunnelInfo{{ID: "t1", Name: "web", Type: "HTTP", LocalPort: 4444, Enabled: true, Status: "active"}})
	g.Eventually(func() bool {
		_, ok := log.find(EventTunnelStatusChanged)
		return ok
	}, "5s", "20ms").Should(BeTrue())
	g.Eventually(func() string { return m.Tunnels()["t1"].Status }, "5s", "20ms").Should(Equal("active"))

	stub.setTunnels(nil)
	g.Eventually(func() int { return len(m.Tunnels()) }, "5s", "20ms").Should(BeZero())
	g.Eventually(func() bool {
		ev, ok := log.find(EventTunnelDestroyed)
		return ok && ev.Tunnel.ID == "t1"
	}, "2s", "20ms").Should(BeTrue())
}

func TestManagerTunnelCommands(t *testing.T) {
	g := NewWithT(t)
	stub := &controlStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	m := newTestManager(t, Options{
		DaemonPath: writeScript(t, readyScript),
		ControlURL: srv.URL,
	})

	m.Start()
	g.Eventually(m.Status, "5s", "20ms").Should(Equal(StatusConnected))

	stub.setTunnels([]control.TunnelInfo{{ID: "t1", Name: "web", Type: "HTTP", LocalPort: 4444, Enabled: true}})
	err := m.CreateTunnel(context.Background(), TunnelConfig{Name: "web", Type: TunnelHTTP, LocalPort: 4444, Enabled: true})
	require.NoError(t, err)
	assert.Contains(t, stub.commandLog(), "tunnel.create name=web type=HTTP port=4444")
	// Registry resynchronized from the daemon after the command.
	g.Eventually(func() int { return len(m.Tunnels()) }, "2s", "20ms").Should(Equal(1))

	require.NoError(t, m.SetTunnelEnabled(context.Background(), "t1", false))
	assert.Contains(t, stub.commandLog(), "tunnel.disable id=t1")

	require.NoError(t, m.DestroyTunnel(context.Background(), "t1"))
	assert.Contains(t, stub.commandLog(), "tunnel.destroy id=t1")
}

func TestManagerTunnelOpsWhileDisconnected(t *testing.T) {
	m := newTestManager(t, Options{DaemonPath: writeScript(t, readyScript)})

	err := m.CreateTunnel(context.Background(), TunnelConfig{Name: "web", Type: TunnelHTTP, LocalPort: 4444})
	assert.ErrorIs(t, err, common.ErrNotConnected)

	err = m.DestroyTunnel(context.Background(), "t1")
	assert.ErrorIs(t, err, common.ErrNotConnected)

	err = m.SetTunnelEnabled(context.Background(), "t1", true)
	assert.ErrorIs(t, err, common.ErrNotConnected)

	assert.Empty(t, m.Tunnels(), "registry must stay untouched")
}
