package i2p

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"i2pmgr/internal/common"
)

func TestTunnelConfigValidate(t *testing.T) {
	valid := TunnelConfig{Name: "web", Type: TunnelHTTP, LocalPort: 4444, Enabled: true}

	tests := []struct {
		name    string
		mutate  func(*TunnelConfig)
		wantErr bool
	}{
		{"valid http", func(c *TunnelConfig) {}, false},
		{"valid socks", func(c *TunnelConfig) { c.Type = TunnelSOCKS }, false},
		{"valid client", func(c *TunnelConfig) {
			c.Type = TunnelClient
			c.TargetHost = "irc.ilita.i2p"
			c.TargetPort = 6667
		}, false},
		{"missing name", func(c *TunnelConfig) { c.Name = "" }, true},
		{"unknown type", func(c *TunnelConfig) { c.Type = "UDP" }, true},
		{"zero port", func(c *TunnelConfig) { c.LocalPort = 0 }, true},
		{"port out of range", func(c *TunnelConfig) { c.LocalPort = 70000 }, true},
		{"client without target host", func(c *TunnelConfig) { c.Type = TunnelClient; c.TargetPort = 6667 }, true},
		{"client without target port", func(c *TunnelConfig) { c.Type = TunnelClient; c.TargetHost = "x.i2p" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, common.ErrConfigInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTunnelCreateCommand(t *testing.T) {
	t.Run("http", func(t *testing.T) {
		cfg := TunnelConfig{Name: "web", Type: TunnelHTTP, LocalPort: 4444, Enabled: true}
		assert.Equal(t, "tunnel.create name=web type=HTTP port=4444", cfg.createCommand())
	})

	t.Run("client with target", func(t *testing.T) {
		cfg := TunnelConfig{
			Name: "irc", Type: TunnelClient, LocalPort: 6668,
			TargetHost: "irc.ilita.i2p", TargetPort: 6667, Enabled: true,
		}
		assert.Equal(t, "tunnel.create name=irc type=Client port=6668 target=irc.ilita.i2p targetport=6667",
			cfg.createCommand())
	})

	t.Run("disabled", func(t *testing.T) {
		cfg := TunnelConfig{Name: "web", Type: TunnelSOCKS, LocalPort: 4447}
		assert.Equal(t, "tunnel.create name=web type=SOCKS port=4447 enabled=false", cfg.createCommand())
	})
}
