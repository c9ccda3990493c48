// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

package sync

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

var (
	activeRoomsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "sync",
		Name:      "active_rooms",
		Help:      "Number of documents with an active room.",
	})
	activeConnectionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "sync",
		Name:      "active_connections",
		Help:      "Number of open client connections.",
	})
	updatesAppliedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "sync",
		Name:      "updates_applied_total",
		Help:      "Number of document updates applied and fanned out.",
	})
	framesDroppedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "sync",
		Name:      "frames_dropped_total",
		Help:      "Number of frames dropped: undecodable input or full peer buffers.",
	})
	evictionsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "sync",
		Name:      "evictions_total",
		Help:      "Number of connections evicted on heartbeat timeout.",
	})
)

func init() {
	prometheus.MustRegister(
		activeRoomsGauge,
		activeConnectionsGauge,
		updatesAppliedCounter,
		framesDroppedCounter,
		evictionsCounter,
	)
}

const opsWindow = time.Minute

// Stats is the JSON body served on /metrics.
type Stats struct {
	ActiveDocuments   int `json:"activeDocuments"`
	ActiveConnections int `json:"activeConnections"`
	OpsPerMinute      int `json:"opsPerMinute"`
}

// Collector tracks connection counts and a rolling one-minute window of
// applied edit operations. Safe for concurrent use.
type Collector struct {
	connections atomic.Int64

	mu  sync.Mutex
	ops []time.Time
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) ConnectionOpened() {
	activeConnectionsGauge.Set(float64(c.connections.Inc()))
}

func (c *Collector) ConnectionClosed() {
	activeConnectionsGauge.Set(float64(c.connections.Dec()))
}

func (c *Collector) Connections() int {
	return int(c.connections.Load())
}

// RecordOp counts one successfully applied editor update.
func (c *Collector) RecordOp() {
	updatesAppliedCounter.Inc()
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(now)
	c.ops = append(c.ops, now)
}

// OpsPerMinute returns the number of updates applied in the last minute.
// Stale entries are discarded lazily here and on insert.
func (c *Collector) OpsPerMinute() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(time.Now())
	return len(c.ops)
}

func (c *Collector) pruneLocked(now time.Time) {
	cutoff := now.Add(-opsWindow)
	i := 0
	for i < len(c.ops) && !c.ops[i].After(cutoff) {
		i++
	}
	if i > 0 {
		c.ops = append(c.ops[:0], c.ops[i:]...)
	}
}
