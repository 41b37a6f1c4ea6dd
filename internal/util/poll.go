// Copyright 2026 i2pmgr Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"context"
	"time"
)

// PollConfig configures polling/wait behavior.
type PollConfig struct {
	Timeout  time.Duration // Total timeout (default: 5s)
	Interval time.Duration // Polling interval (default: 50ms)
}

// DefaultPollConfig returns sensible defaults for polling operations.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Timeout:  5 * time.Second,
		Interval: 50 * time.Millisecond,
	}
}

// ShutdownPollConfig returns config for waiting on daemon shutdown, sized
// to cover the graceful plus forced termination windows.
func ShutdownPollConfig() PollConfig {
	return PollConfig{
		Timeout:  20 * time.Second,
		Interval: 100 * time.Millisecond,
	}
}

// PollUntil polls until condition returns true or timeout.
// Returns nil on success, context.DeadlineExceeded on timeout.
func PollUntil(ctx context.Context, cfg PollConfig, condition func() bool) error {
	def := DefaultPollConfig()
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Interval == 0 {
		cfg.Interval = def.Interval
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	// Check immediately before first tick
	if condition() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}
