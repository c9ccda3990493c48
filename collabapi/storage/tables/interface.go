// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

package tables

import (
	"context"
	"database/sql"
	"time"

	"github.com/notewire/relay/collabapi/types"
)

type Documents interface {
	SelectDocument(ctx context.Context, txn *sql.Tx, documentID string) (*types.Document, error)
}

type Shares interface {
	SelectShare(ctx context.Context, txn *sql.Tx, documentID, userID string) (*types.Share, error)
}

type ShareLinks interface {
	SelectValidShareLink(ctx context.Context, txn *sql.Tx, documentID, token string, now time.Time) (*types.ShareLink, error)
}

type Versions interface {
	SelectLatestVersion(ctx context.Context, txn *sql.Tx, documentID string) (*types.Version, error)
	InsertVersion(ctx context.Context, txn *sql.Tx, version *types.Version) error
}
