// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

package sync

import (
	"context"
	"time"
)

const (
	// DefaultSweepInterval is how often the sweeper walks the rooms.
	DefaultSweepInterval = 5 * time.Second
	// DefaultHeartbeatTimeout is how long a connection may stay silent
	// before eviction.
	DefaultHeartbeatTimeout = 10 * time.Second
)

// Sweeper periodically evicts silent connections, pings the live ones and
// reclaims empty rooms.
type Sweeper struct {
	hub      *Hub
	interval time.Duration
	timeout  time.Duration
}

func NewSweeper(hub *Hub, interval, timeout time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	return &Sweeper{hub: hub, interval: interval, timeout: timeout}
}

// Run blocks until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.hub.Sweep(ctx, s.timeout)
		}
	}
}
