// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

package shared

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/notewire/relay/collabapi/storage/tables"
	"github.com/notewire/relay/collabapi/types"
	"github.com/notewire/relay/internal/sqlutil"
)

// Database implements storage.Database on top of the per-backend tables.
type Database struct {
	DB         *sql.DB
	Writer     sqlutil.Writer
	Documents  tables.Documents
	Shares     tables.Shares
	ShareLinks tables.ShareLinks
	Versions   tables.Versions
}

// FindDocumentByID returns the document row, or nil if it does not exist.
func (d *Database) FindDocumentByID(ctx context.Context, documentID string) (*types.Document, error) {
	doc, err := d.Documents.SelectDocument(ctx, nil, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return doc, err
}

// FindShareByDocumentAndUser returns the explicit share row, or nil.
func (d *Database) FindShareByDocumentAndUser(ctx context.Context, documentID, userID string) (*types.Share, error) {
	share, err := d.Shares.SelectShare(ctx, nil, documentID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return share, err
}

// FindValidShareLink returns a matching unexpired link row, or nil.
func (d *Database) FindValidShareLink(ctx context.Context, documentID, token string, now time.Time) (*types.ShareLink, error) {
	link, err := d.ShareLinks.SelectValidShareLink(ctx, nil, documentID, token, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return link, err
}

// FindLatestVersion returns the newest snapshot row, or nil if the
// document has none.
func (d *Database) FindLatestVersion(ctx context.Context, documentID string) (*types.Version, error) {
	version, err := d.Versions.SelectLatestVersion(ctx, nil, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return version, err
}

// CreateVersion appends an immutable snapshot row and returns it.
func (d *Database) CreateVersion(ctx context.Context, documentID, authorID, summary string, snapshot []byte) (*types.Version, error) {
	version := &types.Version{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		AuthorID:   authorID,
		Summary:    summary,
		Snapshot:   snapshot,
		CreatedAt:  time.Now().UTC(),
	}
	err := d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
		return d.Versions.InsertVersion(ctx, txn, version)
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}
