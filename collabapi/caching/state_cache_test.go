// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

package caching

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCache(t *testing.T) (*StateCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	cache, err := NewStateCache("redis://" + s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, s
}

func TestStateRoundTrip(t *testing.T) {
	cache, s := mustCache(t)
	ctx := context.Background()

	state := []byte{0x01, 0x02, 0xff, 0x00}
	require.NoError(t, cache.SetState(ctx, "doc-1", state))

	got, ok, err := cache.GetState(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, state, got)

	// Stored under the documented key, base64-encoded.
	raw, err := s.Get("doc:doc-1:state")
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(state), raw)
}

func TestGetStateMiss(t *testing.T) {
	cache, _ := mustCache(t)

	got, ok, err := cache.GetState(context.Background(), "doc-none")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestReadyFlipsOffOnConnectionLoss(t *testing.T) {
	cache, s := mustCache(t)
	ctx := context.Background()

	require.NoError(t, cache.SetState(ctx, "doc-1", []byte("a")))
	require.True(t, cache.Ready())

	s.Close()

	err := cache.SetState(ctx, "doc-1", []byte("b"))
	assert.Error(t, err)
	assert.False(t, cache.Ready())

	// Once down, reads report a miss without erroring.
	_, ok, err := cache.GetState(ctx, "doc-1")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestDisabledCacheNeverReady(t *testing.T) {
	cache, err := NewStateCache("")
	require.NoError(t, err)

	assert.False(t, cache.Ready())
	assert.ErrorIs(t, cache.SetState(context.Background(), "doc-1", []byte("a")), ErrNotReady)

	_, ok, err := cache.GetState(context.Background(), "doc-1")
	assert.NoError(t, err)
	assert.False(t, ok)
}
