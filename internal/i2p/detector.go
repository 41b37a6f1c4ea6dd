package i2p

import (
	"bytes"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log markers emitted by i2pd, matched case-insensitively.
const (
	markerProxyReady   = "socks proxy started"
	markerNetworkReady = "network status: ok"
	markerPortInUse    = "address already in use"
	markerBindFailure  = "failed to bind"
	markerShutdown     = "shutdown complete"
)

var fatalMarkers = []string{"critical", "fatal"}

// DetectorSink receives marker verdicts. The Manager implements it; all
// calls happen on the supervisory goroutine because Feed is only invoked
// there.
type DetectorSink interface {
	// DaemonReady fires once both the proxy-ready and network-ready
	// markers have been seen.
	DaemonReady()
	// DaemonFailed fires on a port-in-use/bind-failure marker
	// (stopProcess true) or a fatal/critical line (stopProcess false).
	DaemonFailed(line string, stopProcess bool)
	// DaemonShutdown fires when the daemon reports its own shutdown.
	DaemonShutdown(line string)
}

// Detector consumes raw daemon output chunks, reassembles complete lines
// across chunk boundaries, and matches readiness/failure markers. Marker
// matching only happens while the detector is active (status Starting); it
// is inert otherwise, though lines are still logged.
type Detector struct {
	sink DetectorSink
	rest []byte // partial line carried over from the previous chunk

	active       bool
	proxyReady   bool
	networkReady bool
}

// NewDetector creates a detector with both readiness flags cleared.
func NewDetector(sink DetectorSink) *Detector {
	return &Detector{sink: sink}
}

// SetActive enables or disables marker matching.
func (d *Detector) SetActive(active bool) {
	d.active = active
}

// ProxyReady reports whether the proxy-ready marker has been seen.
func (d *Detector) ProxyReady() bool { return d.proxyReady }

// NetworkReady reports whether the network-ready marker has been seen.
func (d *Detector) NetworkReady() bool { return d.networkReady }

// Feed consumes one raw output chunk. Partial lines at chunk boundaries are
// buffered and combined with the next chunk, so line integrity never
// depends on how the OS happened to slice the pipe reads.
func (d *Detector) Feed(chunk []byte) {
	data := chunk
	if len(d.rest) > 0 {
		data = append(d.rest, chunk...)
		d.rest = nil
	}
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		d.scan(strings.TrimRight(string(data[:i]), "\r"))
		data = data[i+1:]
	}
	if len(data) > 0 {
		d.rest = append([]byte(nil), data...)
	}
}

// Flush processes any trailing partial line. Called once at EOF.
func (d *Detector) Flush() {
	if len(d.rest) == 0 {
		return
	}
	line := strings.TrimRight(string(d.rest), "\r")
	d.rest = nil
	d.scan(line)
}

func (d *Detector) scan(line string) {
	if line == "" {
		return
	}
	logrus.Debugf("i2pd: %s", line)
	if !d.active {
		return
	}
	lower := strings.ToLower(line)

	if strings.Contains(lower, markerProxyReady) {
		logrus.Debug("detector: SOCKS proxy confirmed ready")
		d.proxyReady = true
	}
	if strings.Contains(lower, markerNetworkReady) {
		logrus.Debug("detector: network status confirmed OK")
		d.networkReady = true
	}
	if d.proxyReady && d.networkReady {
		d.active = false
		d.sink.DaemonReady()
		return
	}

	if strings.Contains(lower, markerPortInUse) || strings.Contains(lower, markerBindFailure) {
		d.active = false
		d.sink.DaemonFailed(line, true)
		return
	}
	if strings.Contains(lower, markerShutdown) {
		d.active = false
		d.sink.DaemonShutdown(line)
		return
	}
	for _, marker := range fatalMarkers {
		if strings.Contains(lower, marker) {
			d.active = false
			d.sink.DaemonFailed(line, false)
			return
		}
	}
}
