// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

// Package sync contains the realtime core of the relay: per-document
// rooms, the update fan-out path, presence, connection handling and the
// liveness sweeper.
package sync

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sort"
	gosync "sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/notewire/relay/collabapi/persist"
	"github.com/notewire/relay/collabapi/types"
	"github.com/notewire/relay/internal/crdt"
)

// Client is a room's handle on one connected socket. Implementations must
// be safe for concurrent use: rooms call them while holding their lock.
type Client interface {
	// Enqueue queues an encoded frame for delivery without blocking.
	// Returns false if the client's buffer is full; the client is then
	// expected to shut itself down.
	Enqueue(frame []byte) bool
	// Ping sends a transport-level ping.
	Ping()
	// Terminate force-closes the underlying transport.
	Terminate()
}

// member is the per-connection state a room tracks. The membership map,
// the presence entry and the permission are updated together under the
// room lock.
type member struct {
	userID     string
	permission types.Permission
	presence   *types.PresenceEntry
}

// Room serializes all activity on one document: the merged replica, the
// connection set, presence and the pending persist timer live under a
// single mutex.
type Room struct {
	documentID string
	store      *persist.Store
	metrics    *Collector

	mu           gosync.Mutex
	doc          *crdt.Doc
	members      map[Client]*member
	persistTimer *time.Timer
	// dead is set when the hub drops the room from the registry. A joiner
	// holding a stale pointer is refused and must fetch a fresh room.
	dead bool
}

// newRoom builds a room seeded from the latest snapshot. A load failure
// is logged and treated as "no prior snapshot" so a degraded store never
// blocks collaboration; reconnecting peers converge via merge.
func newRoom(ctx context.Context, documentID string, store *persist.Store, metrics *Collector) *Room {
	doc := crdt.New("relay:" + documentID)
	state, err := store.LoadLatest(ctx, documentID)
	if err != nil {
		logrus.WithError(err).WithField("doc_id", documentID).Warn("Failed to load snapshot, starting empty")
	} else if state != nil {
		if err := doc.ApplyUpdate(state); err != nil {
			logrus.WithError(err).WithField("doc_id", documentID).Warn("Failed to apply stored snapshot, starting empty")
			doc = crdt.New("relay:" + documentID)
		}
	}
	return &Room{
		documentID: documentID,
		store:      store,
		metrics:    metrics,
		doc:        doc,
		members:    map[Client]*member{},
	}
}

// Join registers a connection and its initial presence. The first frame
// enqueued to the joining client is always doc_sync carrying the full
// current state; the presence broadcast follows. Returns false if the
// room has already been retired from the registry.
func (r *Room) Join(c Client, userID string, permission types.Permission, entry *types.PresenceEntry) bool {
	entry.UserID = userID
	entry.LastHeartbeat = time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dead {
		return false
	}

	r.members[c] = &member{
		userID:     userID,
		permission: permission,
		presence:   entry,
	}

	syncFrame, err := json.Marshal(types.DocSyncFrame{
		Type:       types.FrameDocSync,
		DocumentID: r.documentID,
		Update:     base64.StdEncoding.EncodeToString(r.doc.EncodeStateAsUpdate()),
	})
	if err == nil {
		c.Enqueue(syncFrame)
	}
	r.broadcastPresenceLocked()
	return true
}

// retire marks the room dead if it is still empty with no persist
// pending, so the registry removal and the refusal of late joiners are a
// single atomic step.
func (r *Room) retire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.members) > 0 || r.persistTimer != nil {
		return false
	}
	r.dead = true
	return true
}

// Leave removes a connection. It is idempotent: the sweeper and the close
// handler may both call it for the same connection.
func (r *Room) Leave(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[c]; !ok {
		return
	}
	delete(r.members, c)
	r.broadcastPresenceLocked()
}

// ApplyUpdate runs the decode, apply, broadcast, schedule-persist sequence
// for one inbound update, atomically with respect to other updates on the
// same document.
func (r *Room) ApplyUpdate(sender Client, updateB64 string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[sender]
	if !ok {
		return
	}
	// Any frame from a member proves liveness, even one that ends up
	// refused or dropped.
	m.presence.LastHeartbeat = time.Now()
	log := logrus.WithFields(logrus.Fields{
		"doc_id":  r.documentID,
		"user_id": m.userID,
	})

	if !m.permission.CanEdit() {
		sendError(sender, types.ErrMsgReadOnly)
		return
	}

	update, err := base64.StdEncoding.DecodeString(updateB64)
	if err != nil {
		framesDroppedCounter.Inc()
		log.WithError(err).Debug("Dropping update with invalid base64")
		return
	}
	if err := r.doc.ApplyUpdate(update); err != nil {
		// Garbage from one client must not disturb the others.
		framesDroppedCounter.Inc()
		log.WithError(err).Debug("Dropping undecodable update")
		return
	}
	r.metrics.RecordOp()

	// Peers receive the original encoded update; the sender's replica
	// already reflects it.
	frame, err := json.Marshal(types.UpdateFrame{
		Type:       types.FrameYjsUpdate,
		DocumentID: r.documentID,
		Update:     updateB64,
	})
	if err == nil {
		for c := range r.members {
			if c != sender {
				c.Enqueue(frame)
			}
		}
	}

	r.schedulePersistLocked()
}

// UpdatePresence merges a partial cursor frame into the sender's presence
// entry and broadcasts the deduplicated view.
func (r *Room) UpdatePresence(sender Client, frame types.CursorFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[sender]
	if !ok {
		return
	}
	p := m.presence
	if frame.CursorPosition != nil && *frame.CursorPosition >= 0 {
		p.CursorPosition = *frame.CursorPosition
	}
	if frame.SelectionRange != nil && frame.SelectionRange.Valid() {
		p.SelectionRange = *frame.SelectionRange
	}
	if frame.IsTyping != nil {
		p.IsTyping = *frame.IsTyping
	}
	if frame.User != nil {
		if frame.User.Name != "" {
			p.Name = frame.User.Name
		}
		if frame.User.AvatarColor != "" {
			p.AvatarColor = frame.User.AvatarColor
		}
	}
	p.LastHeartbeat = time.Now()
	r.broadcastPresenceLocked()
}

// Heartbeat refreshes the sender's liveness without broadcasting.
func (r *Room) Heartbeat(sender Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[sender]; ok {
		m.presence.LastHeartbeat = time.Now()
	}
}

// sweep evicts members whose heartbeat is older than timeout. Returns the
// evicted clients and the survivors so the caller can terminate the former
// and ping the latter outside the room lock; a transport write must never
// run under it.
func (r *Room) sweep(now time.Time, timeout time.Duration) (evicted, alive []Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for c, m := range r.members {
		if now.Sub(m.presence.LastHeartbeat) > timeout {
			delete(r.members, c)
			evicted = append(evicted, c)
		}
	}
	if len(evicted) > 0 {
		evictionsCounter.Add(float64(len(evicted)))
		r.broadcastPresenceLocked()
	}
	for c := range r.members {
		alive = append(alive, c)
	}
	return evicted, alive
}

// schedulePersistLocked arms the debounce timer if none is pending. The
// delay tracks which persistence tier is live.
func (r *Room) schedulePersistLocked() {
	if r.persistTimer != nil {
		return
	}
	r.persistTimer = time.AfterFunc(r.store.DebounceDelay(), r.persistNow)
}

// persistNow clears the pending flag before the store I/O so the next
// update can arm a fresh timer while the write is still in flight.
func (r *Room) persistNow() {
	r.mu.Lock()
	r.persistTimer = nil
	state := r.doc.EncodeStateAsUpdate()
	r.mu.Unlock()

	if err := r.store.SaveSnapshot(context.Background(), r.documentID, state); err != nil {
		logrus.WithError(err).WithField("doc_id", r.documentID).Error("Failed to persist snapshot")
	}
}

// Flush writes any pending persist straight to the durable store. Called
// on room teardown and process shutdown so acknowledged updates survive.
func (r *Room) Flush(ctx context.Context) error {
	r.mu.Lock()
	if r.persistTimer == nil {
		r.mu.Unlock()
		return nil
	}
	r.persistTimer.Stop()
	r.persistTimer = nil
	state := r.doc.EncodeStateAsUpdate()
	r.mu.Unlock()

	return r.store.Flush(ctx, r.documentID, state)
}

// Empty reports whether the room holds no members and no pending persist.
// Only empty rooms may be dropped from the registry.
func (r *Room) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members) == 0 && r.persistTimer == nil
}

func (r *Room) memberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Presence returns the deduplicated presence view: one entry per userId,
// keeping the freshest heartbeat when a user holds several connections.
func (r *Room) Presence() []types.PresenceUser {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presenceLocked()
}

func (r *Room) presenceLocked() []types.PresenceUser {
	best := map[string]*types.PresenceEntry{}
	for _, m := range r.members {
		prev, ok := best[m.userID]
		if !ok || m.presence.LastHeartbeat.After(prev.LastHeartbeat) {
			best[m.userID] = m.presence
		}
	}
	users := make([]types.PresenceUser, 0, len(best))
	for _, p := range best {
		users = append(users, types.PresenceUser{
			UserID:         p.UserID,
			Name:           p.Name,
			AvatarColor:    p.AvatarColor,
			CursorPosition: p.CursorPosition,
			SelectionRange: p.SelectionRange,
			IsTyping:       p.IsTyping,
			LastHeartbeat:  p.LastHeartbeat.UnixMilli(),
		})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}

func (r *Room) broadcastPresenceLocked() {
	frame, err := json.Marshal(types.PresenceUpdateFrame{
		Type:       types.FramePresenceUpdate,
		DocumentID: r.documentID,
		Users:      r.presenceLocked(),
	})
	if err != nil {
		return
	}
	for c := range r.members {
		c.Enqueue(frame)
	}
}

func sendError(c Client, message string) {
	frame, err := json.Marshal(types.ErrorFrame{
		Type:    types.FrameError,
		Message: message,
	})
	if err == nil {
		c.Enqueue(frame)
	}
}

// State returns the current encoded replica state. Used by tests and the
// join path.
func (r *Room) State() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.EncodeStateAsUpdate()
}

// Text returns the current document text.
func (r *Room) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Text()
}
