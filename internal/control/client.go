// Package control implements a client for the daemon's local HTTP control
// API: status, tunnel listing, and command submission.
package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"i2pmgr/internal/common"
)

const requestTimeout = 10 * time.Second

// NetworkStats is the statistics object returned by GET /api/status.
// It is replaced wholesale on every successful poll.
type NetworkStats struct {
	ActiveTunnels     int     `json:"activeTunnels"`
	InboundBandwidth  int64   `json:"inboundBandwidth"`
	OutboundBandwidth int64   `json:"outboundBandwidth"`
	PeersCount        int     `json:"peersCount"`
	NetworkID         string  `json:"networkID"`
	AnonymityLevel    float64 `json:"anonymityLevel"` // 0..1
	FloodfillEnabled  bool    `json:"floodfillEnabled"`
}

// TunnelInfo is a tunnel as reported by GET /api/tunnels. The id is
// daemon-assigned and the status is free text.
type TunnelInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	LocalPort  int    `json:"port"`
	TargetHost string `json:"target,omitempty"`
	TargetPort int    `json:"targetPort,omitempty"`
	Enabled    bool   `json:"enabled"`
	Status     string `json:"status,omitempty"`
}

type tunnelList struct {
	Tunnels []TunnelInfo `json:"tunnels"`
}

type commandRequest struct {
	Command string `json:"command"`
}

// Client is an HTTP client for the daemon control API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// New creates a control API client. token is the optional bearer token; an
// empty token sends unauthenticated requests.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// Status fetches the network statistics object.
func (c *Client) Status(ctx context.Context) (*NetworkStats, error) {
	var stats NetworkStats
	if err := c.get(ctx, "/api/status", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Tunnels fetches the daemon's tunnel listing.
func (c *Client) Tunnels(ctx context.Context) ([]TunnelInfo, error) {
	var list tunnelList
	if err := c.get(ctx, "/api/tunnels", &list); err != nil {
		return nil, err
	}
	return list.Tunnels, nil
}

// Command submits a free-text command to the daemon.
func (c *Client) Command(ctx context.Context, command string) error {
	body, err := json.Marshal(commandRequest{Command: command})
	if err != nil {
		return fmt.Errorf("%w: marshal command: %v", common.ErrControlRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/command", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", common.ErrControlRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrControlRequest, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: command %q rejected with status %d", common.ErrControlRequest, command, resp.StatusCode)
	}
	return nil
}

// Shutdown asks the daemon to shut itself down.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.Command(ctx, "shutdown")
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", common.ErrControlRequest, err)
	}
	c.auth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrControlRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: GET %s returned status %d", common.ErrControlRequest, path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", common.ErrControlRequest, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: parse response: %v", common.ErrControlRequest, err)
	}
	return nil
}

func (c *Client) auth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
