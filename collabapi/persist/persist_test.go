// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

package persist

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notewire/relay/collabapi/caching"
	"github.com/notewire/relay/collabapi/types"
)

// fakeDB records versions in memory so tests can count durable writes.
type fakeDB struct {
	documents map[string]*types.Document
	versions  []*types.Version
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		documents: map[string]*types.Document{
			"doc-1": {ID: "doc-1", OwnerID: "alice"},
		},
	}
}

func (f *fakeDB) FindDocumentByID(_ context.Context, documentID string) (*types.Document, error) {
	return f.documents[documentID], nil
}

func (f *fakeDB) FindShareByDocumentAndUser(context.Context, string, string) (*types.Share, error) {
	return nil, nil
}

func (f *fakeDB) FindValidShareLink(context.Context, string, string, time.Time) (*types.ShareLink, error) {
	return nil, nil
}

func (f *fakeDB) FindLatestVersion(_ context.Context, documentID string) (*types.Version, error) {
	for i := len(f.versions) - 1; i >= 0; i-- {
		if f.versions[i].DocumentID == documentID {
			return f.versions[i], nil
		}
	}
	return nil, nil
}

func (f *fakeDB) CreateVersion(_ context.Context, documentID, authorID, summary string, snapshot []byte) (*types.Version, error) {
	v := &types.Version{
		ID:         "v-" + time.Now().Format("150405.000000000"),
		DocumentID: documentID,
		AuthorID:   authorID,
		Summary:    summary,
		Snapshot:   snapshot,
		CreatedAt:  time.Now().UTC(),
	}
	f.versions = append(f.versions, v)
	return v, nil
}

func (f *fakeDB) countVersions(documentID string) int {
	n := 0
	for _, v := range f.versions {
		if v.DocumentID == documentID {
			n++
		}
	}
	return n
}

func disabledCache(t *testing.T) *caching.StateCache {
	t.Helper()
	cache, err := caching.NewStateCache("")
	require.NoError(t, err)
	return cache
}

func liveCache(t *testing.T) (*caching.StateCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	cache, err := caching.NewStateCache("redis://" + s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, s
}

func TestLoadLatestPrefersCache(t *testing.T) {
	db := newFakeDB()
	cache, _ := liveCache(t)
	store := NewStore(db, cache)
	ctx := context.Background()

	_, err := db.CreateVersion(ctx, "doc-1", "alice", AutoSaveSummary, []byte("stale"))
	require.NoError(t, err)
	require.NoError(t, cache.SetState(ctx, "doc-1", []byte("fresh")))

	state, err := store.LoadLatest(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), state)
}

func TestLoadLatestFallsBackToDurable(t *testing.T) {
	db := newFakeDB()
	store := NewStore(db, disabledCache(t))
	ctx := context.Background()

	_, err := db.CreateVersion(ctx, "doc-1", "alice", AutoSaveSummary, []byte("durable"))
	require.NoError(t, err)

	state, err := store.LoadLatest(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), state)
}

func TestLoadLatestNoState(t *testing.T) {
	store := NewStore(newFakeDB(), disabledCache(t))

	state, err := store.LoadLatest(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestSaveSnapshotCacheTierAvoidsDurableWrites(t *testing.T) {
	db := newFakeDB()
	cache, _ := liveCache(t)
	store := NewStore(db, cache)
	ctx := context.Background()

	require.NoError(t, store.SaveSnapshot(ctx, "doc-1", []byte("state-1")))
	require.NoError(t, store.SaveSnapshot(ctx, "doc-1", []byte("state-2")))

	assert.Equal(t, 0, db.countVersions("doc-1"))

	state, ok, err := cache.GetState(ctx, "doc-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("state-2"), state)
}

func TestSaveSnapshotDurableFloor(t *testing.T) {
	db := newFakeDB()
	store := NewStore(db, disabledCache(t))
	ctx := context.Background()

	// Differing states in quick succession; the floor admits only the
	// first durable row.
	require.NoError(t, store.SaveSnapshot(ctx, "doc-1", []byte("state-1")))
	require.NoError(t, store.SaveSnapshot(ctx, "doc-1", []byte("state-2")))
	require.NoError(t, store.SaveSnapshot(ctx, "doc-1", []byte("state-3")))

	assert.Equal(t, 1, db.countVersions("doc-1"))

	v, err := db.FindLatestVersion(ctx, "doc-1")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, []byte("state-1"), v.Snapshot)
	assert.Equal(t, AutoSaveSummary, v.Summary)
	assert.Equal(t, "alice", v.AuthorID)
}

func TestSaveSnapshotFloorIsPerDocument(t *testing.T) {
	db := newFakeDB()
	db.documents["doc-2"] = &types.Document{ID: "doc-2", OwnerID: "bob"}
	store := NewStore(db, disabledCache(t))
	ctx := context.Background()

	require.NoError(t, store.SaveSnapshot(ctx, "doc-1", []byte("a")))
	require.NoError(t, store.SaveSnapshot(ctx, "doc-2", []byte("b")))

	assert.Equal(t, 1, db.countVersions("doc-1"))
	assert.Equal(t, 1, db.countVersions("doc-2"))
}

func TestFlushSkipsUnchangedState(t *testing.T) {
	db := newFakeDB()
	store := NewStore(db, disabledCache(t))
	ctx := context.Background()

	require.NoError(t, store.Flush(ctx, "doc-1", []byte("state")))
	require.NoError(t, store.Flush(ctx, "doc-1", []byte("state")))

	assert.Equal(t, 1, db.countVersions("doc-1"))
}

func TestUnchangedSaveDoesNotConsumeFloor(t *testing.T) {
	db := newFakeDB()
	store := NewStore(db, disabledCache(t))
	ctx := context.Background()

	_, err := db.CreateVersion(ctx, "doc-1", "alice", AutoSaveSummary, []byte("state-1"))
	require.NoError(t, err)

	// Identical bytes are a no-op; the floor budget stays intact for the
	// changed save that follows.
	require.NoError(t, store.SaveSnapshot(ctx, "doc-1", []byte("state-1")))
	require.NoError(t, store.SaveSnapshot(ctx, "doc-1", []byte("state-2")))

	assert.Equal(t, 2, db.countVersions("doc-1"))
	v, err := db.FindLatestVersion(ctx, "doc-1")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, []byte("state-2"), v.Snapshot)
}

func TestFlushBypassesFloor(t *testing.T) {
	db := newFakeDB()
	store := NewStore(db, disabledCache(t))
	ctx := context.Background()

	require.NoError(t, store.SaveSnapshot(ctx, "doc-1", []byte("state-1")))
	// The floor would reject this; Flush must not.
	require.NoError(t, store.Flush(ctx, "doc-1", []byte("state-2")))

	assert.Equal(t, 2, db.countVersions("doc-1"))
}

func TestDebounceDelayTracksCacheHealth(t *testing.T) {
	db := newFakeDB()

	cache, s := liveCache(t)
	store := NewStore(db, cache)
	assert.Equal(t, time.Second, store.DebounceDelay())

	s.Close()
	_ = cache.SetState(context.Background(), "doc-1", []byte("x"))
	assert.Equal(t, 5*time.Second, store.DebounceDelay())

	assert.Equal(t, 5*time.Second, NewStore(db, disabledCache(t)).DebounceDelay())
}
