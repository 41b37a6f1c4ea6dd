package i2p

import (
	"context"
	"fmt"
	"strings"

	"i2pmgr/internal/common"
	"i2pmgr/internal/control"
	"i2pmgr/internal/util"
)

// TunnelType is the kind of tunnel to configure.
type TunnelType string

const (
	TunnelHTTP   TunnelType = "HTTP"
	TunnelSOCKS  TunnelType = "SOCKS"
	TunnelClient TunnelType = "Client"
)

// TunnelConfig is the input for creating a tunnel. TargetHost/TargetPort
// are required for Client tunnels and ignored otherwise.
type TunnelConfig struct {
	Name       string
	Type       TunnelType
	LocalPort  int
	TargetHost string
	TargetPort int
	Enabled    bool
}

// Validate checks the tunnel configuration.
func (c TunnelConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: tunnel name is required", common.ErrConfigInvalid)
	}
	switch c.Type {
	case TunnelHTTP, TunnelSOCKS, TunnelClient:
	default:
		return fmt.Errorf("%w: unknown tunnel type %q", common.ErrConfigInvalid, c.Type)
	}
	if c.LocalPort <= 0 || c.LocalPort > 65535 {
		return fmt.Errorf("%w: invalid local port %d", common.ErrConfigInvalid, c.LocalPort)
	}
	if c.Type == TunnelClient {
		if c.TargetHost == "" {
			return fmt.Errorf("%w: client tunnel requires a target host", common.ErrConfigInvalid)
		}
		if c.TargetPort <= 0 || c.TargetPort > 65535 {
			return fmt.Errorf("%w: client tunnel requires a target port", common.ErrConfigInvalid)
		}
	}
	return nil
}

func (c TunnelConfig) createCommand() string {
	parts := []string{
		"tunnel.create",
		"name=" + c.Name,
		"type=" + string(c.Type),
		fmt.Sprintf("port=%d", c.LocalPort),
	}
	if c.Type == TunnelClient {
		parts = append(parts, "target="+c.TargetHost, fmt.Sprintf("targetport=%d", c.TargetPort))
	}
	if !c.Enabled {
		parts = append(parts, "enabled=false")
	}
	return strings.Join(parts, " ")
}

// CreateTunnel configures a new tunnel on the daemon. Requires status
// Connected; on acceptance the registry is resynchronized wholesale from
// the daemon rather than updated speculatively.
func (m *Manager) CreateTunnel(ctx context.Context, cfg TunnelConfig) error {
	if err := cfg.Validate(); err != nil {
		m.reportError(err.Error())
		return err
	}
	return m.tunnelCommand(ctx, cfg.createCommand())
}

// DestroyTunnel removes a tunnel by daemon-assigned id.
func (m *Manager) DestroyTunnel(ctx context.Context, id string) error {
	if id == "" {
		err := fmt.Errorf("%w: tunnel id is required", common.ErrConfigInvalid)
		m.reportError(err.Error())
		return err
	}
	return m.tunnelCommand(ctx, "tunnel.destroy id="+id)
}

// SetTunnelEnabled enables or disables a tunnel by daemon-assigned id.
func (m *Manager) SetTunnelEnabled(ctx context.Context, id string, enabled bool) error {
	if id == "" {
		err := fmt.Errorf("%w: tunnel id is required", common.ErrConfigInvalid)
		m.reportError(err.Error())
		return err
	}
	verb := "tunnel.disable"
	if enabled {
		verb = "tunnel.enable"
	}
	return m.tunnelCommand(ctx, verb+" id="+id)
}

// tunnelCommand gates on Connected, submits the command, and resyncs the
// registry. Submission shares the control retry policy; command or resync
// failures never mutate the daemon status.
func (m *Manager) tunnelCommand(ctx context.Context, command string) error {
	if m.Status() != StatusConnected {
		err := fmt.Errorf("%w: %s", common.ErrNotConnected, command)
		m.reportError(err.Error())
		return err
	}
	err := util.Retry(ctx, func() error {
		return m.ctrl.Command(ctx, command)
	}, util.ControlRetryOptions(ctx)...)
	if err != nil {
		m.reportError(err.Error())
		return err
	}
	return m.resyncTunnels(ctx)
}

// resyncTunnels re-fetches the tunnel list and replaces the registry. The
// fetch is retried briefly: the daemon may still be rebuilding its tunnel
// table right after a command.
func (m *Manager) resyncTunnels(ctx context.Context) error {
	tunnels, err := util.RetryWithResult(ctx, func() ([]control.TunnelInfo, error) {
		return m.ctrl.Tunnels(ctx)
	}, util.ControlRetryOptions(ctx)...)
	if err != nil {
		m.reportError(fmt.Sprintf("tunnel resync failed: %v", err))
		return err
	}
	m.do(func() { m.applyTunnels(tunnels) })
	return nil
}

// applyTunnels rebuilds the registry wholesale from a daemon listing:
// stale entries are dropped, and per-tunnel change events derived from the
// diff against the previous registry. Runs on the supervisory goroutine.
func (m *Manager) applyTunnels(list []control.TunnelInfo) {
	if m.Status() != StatusConnected {
		return
	}

	next := make(map[string]control.TunnelInfo, len(list))
	for _, t := range list {
		next[t.ID] = t
	}

	m.mu.Lock()
	prev := m.tunnels
	m.tunnels = next
	m.mu.Unlock()

	for id, t := range next {
		old, existed := prev[id]
		if !existed {
			tunnel := t
			m.bus.publish(Event{Type: EventTunnelCreated, Tunnel: &tunnel})
		} else if old.Status != t.Status || old.Enabled != t.Enabled {
			tunnel := t
			m.bus.publish(Event{Type: EventTunnelStatusChanged, Tunnel: &tunnel})
		}
	}
	for id, t := range prev {
		if _, kept := next[id]; !kept {
			tunnel := t
			m.bus.publish(Event{Type: EventTunnelDestroyed, Tunnel: &tunnel})
		}
	}
}
