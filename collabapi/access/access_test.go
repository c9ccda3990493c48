// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/notewire/relay/collabapi/types"
)

// fakeDB is an in-memory storage.Database for resolver tests.
type fakeDB struct {
	documents map[string]*types.Document
	shares    map[string]*types.Share     // key: docID + "/" + userID
	links     map[string]*types.ShareLink // key: docID + "/" + token
	err       error
}

func (f *fakeDB) FindDocumentByID(_ context.Context, documentID string) (*types.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.documents[documentID], nil
}

func (f *fakeDB) FindShareByDocumentAndUser(_ context.Context, documentID, userID string) (*types.Share, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.shares[documentID+"/"+userID], nil
}

func (f *fakeDB) FindValidShareLink(_ context.Context, documentID, token string, now time.Time) (*types.ShareLink, error) {
	if f.err != nil {
		return nil, f.err
	}
	link := f.links[documentID+"/"+token]
	if link != nil && link.ExpiresAt != nil && !link.ExpiresAt.After(now) {
		return nil, nil
	}
	return link, nil
}

func (f *fakeDB) FindLatestVersion(context.Context, string) (*types.Version, error) {
	return nil, nil
}

func (f *fakeDB) CreateVersion(context.Context, string, string, string, []byte) (*types.Version, error) {
	return nil, nil
}

func newFakeDB() *fakeDB {
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	return &fakeDB{
		documents: map[string]*types.Document{
			"doc-1": {ID: "doc-1", OwnerID: "alice"},
		},
		shares: map[string]*types.Share{
			"doc-1/bob": {DocumentID: "doc-1", UserID: "bob", Permission: types.PermissionEditor},
		},
		links: map[string]*types.ShareLink{
			"doc-1/tok-live": {DocumentID: "doc-1", Token: "tok-live", Permission: types.PermissionViewer, ExpiresAt: &future},
			"doc-1/tok-dead": {DocumentID: "doc-1", Token: "tok-dead", Permission: types.PermissionEditor, ExpiresAt: &past},
		},
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		documentID string
		userID     string
		shareToken string
		want       types.Permission
		wantErr    error
	}{
		{name: "owner", documentID: "doc-1", userID: "alice", want: types.PermissionOwner},
		{name: "explicit share", documentID: "doc-1", userID: "bob", want: types.PermissionEditor},
		{name: "owner wins over share token", documentID: "doc-1", userID: "alice", shareToken: "tok-live", want: types.PermissionOwner},
		{name: "share wins over share token", documentID: "doc-1", userID: "bob", shareToken: "tok-live", want: types.PermissionEditor},
		{name: "valid link", documentID: "doc-1", userID: "carol", shareToken: "tok-live", want: types.PermissionViewer},
		{name: "expired link denied", documentID: "doc-1", userID: "carol", shareToken: "tok-dead", wantErr: ErrNoAccess},
		{name: "unknown token is no-access not not-found", documentID: "doc-1", userID: "carol", shareToken: "tok-nope", wantErr: ErrNoAccess},
		{name: "no grant at all", documentID: "doc-1", userID: "carol", wantErr: ErrNoAccess},
		{name: "missing document", documentID: "doc-9", userID: "alice", wantErr: ErrNotFound},
		{name: "empty id", documentID: "", userID: "alice", wantErr: ErrInvalidID},
		{name: "malformed id", documentID: "has space", userID: "alice", wantErr: ErrInvalidID},
		{name: "control character id", documentID: "doc\n1", userID: "alice", wantErr: ErrInvalidID},
	}

	r := NewResolver(newFakeDB())
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), tc.documentID, tc.userID, tc.shareToken)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveStoreErrorsSurfaceAsNotFound(t *testing.T) {
	db := newFakeDB()
	db.err = errors.New("connection refused")
	r := NewResolver(db)

	_, err := r.Resolve(context.Background(), "doc-1", "alice", "")
	assert.ErrorIs(t, err, ErrNotFound)
}
