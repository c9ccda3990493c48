// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/notewire/relay/collabapi/persist"
)

// Hub is the room registry: documentId to room, created lazily on the
// first join and reclaimed once empty with no persist pending.
type Hub struct {
	store   *persist.Store
	metrics *Collector

	mu    gosync.Mutex
	rooms map[string]*Room
}

func NewHub(store *persist.Store, metrics *Collector) *Hub {
	return &Hub{
		store:   store,
		metrics: metrics,
		rooms:   map[string]*Room{},
	}
}

// GetOrCreate returns the room for a document, building and seeding it if
// this is the first join. Seeding does store I/O, so the registry lock is
// not held across it.
func (h *Hub) GetOrCreate(ctx context.Context, documentID string) *Room {
	h.mu.Lock()
	if room, ok := h.rooms[documentID]; ok {
		h.mu.Unlock()
		return room
	}
	h.mu.Unlock()

	room := newRoom(ctx, documentID, h.store, h.metrics)

	h.mu.Lock()
	defer h.mu.Unlock()
	// Another join may have won the race while we were loading.
	if existing, ok := h.rooms[documentID]; ok {
		return existing
	}
	h.rooms[documentID] = room
	activeRoomsGauge.Set(float64(len(h.rooms)))
	logrus.WithField("doc_id", documentID).Info("Room created")
	return room
}

// Get returns the room for a document, or nil.
func (h *Hub) Get(documentID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[documentID]
}

// Release drops the room if it is empty. Called after every leave or
// close; a room kept alive by a pending persist is collected later by the
// sweeper once the persist completes. Retiring the room and removing it
// from the registry happen under the registry lock, so a concurrent join
// either lands in the room before it dies or is refused and retries.
func (h *Hub) Release(documentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[documentID]
	if !ok || !room.retire() {
		return
	}
	delete(h.rooms, documentID)
	activeRoomsGauge.Set(float64(len(h.rooms)))
	logrus.WithField("doc_id", documentID).Info("Room removed")
}

// Sweep runs one liveness pass: evict stale members from every room, then
// collect rooms that ended up empty, flushing any pending persist first.
func (h *Hub) Sweep(ctx context.Context, timeout time.Duration) {
	h.mu.Lock()
	rooms := make(map[string]*Room, len(h.rooms))
	for id, room := range h.rooms {
		rooms[id] = room
	}
	h.mu.Unlock()

	now := time.Now()
	for id, room := range rooms {
		evicted, alive := room.sweep(now, timeout)
		for _, c := range evicted {
			c.Terminate()
		}
		for _, c := range alive {
			c.Ping()
		}
		if room.Empty() {
			h.Release(id)
			continue
		}
		if room.memberCount() == 0 {
			// Members are gone but a persist is pending; finish it now so
			// the room can be reclaimed.
			if err := room.Flush(ctx); err != nil {
				logrus.WithError(err).WithField("doc_id", id).Error("Failed to flush room on sweep")
				continue
			}
			h.Release(id)
		}
	}
}

// Len returns the number of active rooms.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Stats assembles the JSON metrics body.
func (h *Hub) Stats() Stats {
	return Stats{
		ActiveDocuments:   h.Len(),
		ActiveConnections: h.metrics.Connections(),
		OpsPerMinute:      h.metrics.OpsPerMinute(),
	}
}

// Shutdown flushes every room's pending persist. Called once on graceful
// process stop, after the listener has been drained.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, room := range h.rooms {
		rooms = append(rooms, room)
	}
	h.mu.Unlock()

	for _, room := range rooms {
		if err := room.Flush(ctx); err != nil {
			logrus.WithError(err).WithField("doc_id", room.documentID).Error("Failed to flush room on shutdown")
		}
	}
}
