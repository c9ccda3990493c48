// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

package storage

import (
	"context"
	"time"

	"github.com/notewire/relay/collabapi/types"
)

// Database is the durable-store surface the relay consumes. The document
// CRUD service owns these tables; the relay only reads them, except for
// appending snapshot versions.
type Database interface {
	// FindDocumentByID returns nil if the document does not exist.
	FindDocumentByID(ctx context.Context, documentID string) (*types.Document, error)
	// FindShareByDocumentAndUser returns nil if no explicit share exists.
	FindShareByDocumentAndUser(ctx context.Context, documentID, userID string) (*types.Share, error)
	// FindValidShareLink returns nil if no link matches the token or all
	// matching links have expired as of now.
	FindValidShareLink(ctx context.Context, documentID, token string, now time.Time) (*types.ShareLink, error)
	// FindLatestVersion returns the newest snapshot row by created-at, or
	// nil if the document has no versions.
	FindLatestVersion(ctx context.Context, documentID string) (*types.Version, error)
	// CreateVersion appends an immutable snapshot row.
	CreateVersion(ctx context.Context, documentID, authorID, summary string, snapshot []byte) (*types.Version, error)
}
