// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

// Package persist ties the two snapshot tiers together. Active documents
// write their state into the Redis cache on a short debounce; when the
// cache is unavailable the relay degrades to rate-limited auto-save rows
// in the durable store.
package persist

import (
	"bytes"
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/notewire/relay/collabapi/caching"
	"github.com/notewire/relay/collabapi/storage"
)

const (
	// Debounce before persisting after the last update, per tier.
	cacheDebounce   = time.Second
	durableDebounce = 5 * time.Second

	// Hard floor between durable auto-save rows for a single document,
	// regardless of how often saves are requested.
	durableFloor = 5 * time.Second

	// AutoSaveSummary labels version rows written by the relay itself.
	AutoSaveSummary = "Auto-save"
)

var snapshotSaves = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "persist",
		Name:      "snapshot_saves_total",
		Help:      "Number of document snapshots persisted, by tier.",
	},
	[]string{"tier"},
)

func init() {
	prometheus.MustRegister(snapshotSaves)
}

// Store loads and saves document snapshots across the cache and durable
// tiers.
type Store struct {
	db    storage.Database
	cache *caching.StateCache

	// Per-document rate limiters for durable auto-saves. Entries expire
	// once a document has been idle for a while.
	floors *gocache.Cache
}

func NewStore(db storage.Database, cache *caching.StateCache) *Store {
	return &Store{
		db:     db,
		cache:  cache,
		floors: gocache.New(10*time.Minute, 30*time.Minute),
	}
}

// DebounceDelay returns how long a room should wait after the last update
// before persisting: short while the cache absorbs writes, longer when
// every save hits the durable store.
func (s *Store) DebounceDelay() time.Duration {
	if s.cache.Ready() {
		return cacheDebounce
	}
	return durableDebounce
}

// LoadLatest returns the most recent known state for a document: the
// cached copy if present, otherwise the snapshot of the latest durable
// version. A (nil, nil) return means the document has no state yet.
func (s *Store) LoadLatest(ctx context.Context, documentID string) ([]byte, error) {
	state, ok, err := s.cache.GetState(ctx, documentID)
	if ok {
		return state, nil
	}
	if err != nil {
		logrus.WithError(err).WithField("doc_id", documentID).Warn("Snapshot cache read failed, trying durable store")
	}

	version, err := s.db.FindLatestVersion(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, nil
	}
	return version.Snapshot, nil
}

// SaveSnapshot persists the given state. The cache tier is preferred; a
// cache that is down (or goes down mid-write) falls through to a durable
// auto-save, throttled to one row per document per floor interval and
// skipped entirely when the bytes match the latest stored version.
func (s *Store) SaveSnapshot(ctx context.Context, documentID string, state []byte) error {
	if s.cache.Ready() {
		err := s.cache.SetState(ctx, documentID, state)
		if err == nil {
			snapshotSaves.WithLabelValues("cache").Inc()
			return nil
		}
		logrus.WithError(err).WithField("doc_id", documentID).Warn("Snapshot cache write failed, falling back to durable store")
	}
	return s.saveDurable(ctx, documentID, state)
}

// Flush writes the state straight to the durable store, bypassing the
// floor. Used on graceful shutdown and room teardown so no acknowledged
// update is lost. Unchanged states are still skipped.
func (s *Store) Flush(ctx context.Context, documentID string, state []byte) error {
	changed, err := s.stateChanged(ctx, documentID, state)
	if err != nil || !changed {
		return err
	}
	return s.writeVersion(ctx, documentID, state)
}

// saveDurable checks the bytes before the floor: an unchanged save is a
// no-op and must not consume the document's rate budget.
func (s *Store) saveDurable(ctx context.Context, documentID string, state []byte) error {
	changed, err := s.stateChanged(ctx, documentID, state)
	if err != nil || !changed {
		return err
	}
	if !s.floorFor(documentID).Allow() {
		return nil
	}
	return s.writeVersion(ctx, documentID, state)
}

// stateChanged reports whether state differs from the latest stored
// version's snapshot.
func (s *Store) stateChanged(ctx context.Context, documentID string, state []byte) (bool, error) {
	latest, err := s.db.FindLatestVersion(ctx, documentID)
	if err != nil {
		return false, err
	}
	return latest == nil || !bytes.Equal(latest.Snapshot, state), nil
}

func (s *Store) writeVersion(ctx context.Context, documentID string, state []byte) error {
	// Auto-saves are attributed to the document owner since no single
	// connected user authored the full state.
	authorID := ""
	doc, err := s.db.FindDocumentByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc != nil {
		authorID = doc.OwnerID
	}

	if _, err := s.db.CreateVersion(ctx, documentID, authorID, AutoSaveSummary, state); err != nil {
		return err
	}
	snapshotSaves.WithLabelValues("durable").Inc()
	return nil
}

func (s *Store) floorFor(documentID string) *rate.Limiter {
	if lim, ok := s.floors.Get(documentID); ok {
		return lim.(*rate.Limiter)
	}
	lim := rate.NewLimiter(rate.Every(durableFloor), 1)
	s.floors.SetDefault(documentID, lim)
	return lim
}
