// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

// Package caching provides the fast snapshot tier: a Redis cache that
// absorbs the high-frequency update stream during active collaboration.
// The cache is optional; when it is absent or down, the relay falls back
// to the durable store.
package caching

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// ErrNotReady is returned for operations against a cache that is disabled
// or currently disconnected.
var ErrNotReady = errors.New("caching: cache not ready")

func stateKey(documentID string) string {
	return fmt.Sprintf("doc:%s:state", documentID)
}

// StateCache holds the latest CRDT state per document in Redis. A ready
// bit tracks whether the cache is usable; writes observing a lost
// connection flip it off and a successful reconnect flips it back on.
type StateCache struct {
	client *redis.Client
	ready  atomic.Bool
}

// NewStateCache connects to the given Redis URL. An empty URL returns a
// permanently not-ready cache, which callers treat as "no cache
// configured".
func NewStateCache(redisURL string) (*StateCache, error) {
	c := &StateCache{}
	if redisURL == "" {
		return c, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.OnConnect = func(ctx context.Context, _ *redis.Conn) error {
		// Any successful (re)connect makes the cache authoritative again.
		if c.ready.CompareAndSwap(false, true) {
			logrus.Info("Snapshot cache connected")
		}
		return nil
	}
	c.client = redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		// Not fatal: the relay runs degraded until Redis appears.
		logrus.WithError(err).Warn("Snapshot cache unreachable at startup, running on durable store only")
	}
	return c, nil
}

// Ready reports whether the cache is currently usable. The bit is a hint:
// the persistence path re-checks on every call and never caches it across
// suspension points.
func (c *StateCache) Ready() bool {
	return c.client != nil && c.ready.Load()
}

// GetState fetches the cached state bytes for a document. The second
// return is false on a miss or when the cache is unusable.
func (c *StateCache) GetState(ctx context.Context, documentID string) ([]byte, bool, error) {
	if !c.Ready() {
		return nil, false, nil
	}
	encoded, err := c.client.Get(ctx, stateKey(documentID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		c.observeError(err)
		return nil, false, err
	}
	state, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false, fmt.Errorf("decode cached state: %w", err)
	}
	return state, true, nil
}

// SetState stores the state bytes for a document. Returns ErrNotReady when
// the cache is unusable so the caller can fall through to the durable
// tier.
func (c *StateCache) SetState(ctx context.Context, documentID string, state []byte) error {
	if !c.Ready() {
		return ErrNotReady
	}
	encoded := base64.StdEncoding.EncodeToString(state)
	if err := c.client.Set(ctx, stateKey(documentID), encoded, 0).Err(); err != nil {
		c.observeError(err)
		return err
	}
	return nil
}

// Close releases the underlying client.
func (c *StateCache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// observeError flips the ready bit off when an error looks like a lost
// connection rather than a per-command failure.
func (c *StateCache) observeError(err error) {
	if !isConnectionError(err) {
		return
	}
	if c.ready.CompareAndSwap(true, false) {
		logrus.WithError(err).Warn("Snapshot cache connection lost, falling back to durable store")
	}
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	return errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.As(err, &netErr)
}
