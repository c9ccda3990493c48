// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

package postgres

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/notewire/relay/collabapi/storage/shared"
	"github.com/notewire/relay/internal/sqlutil"
)

// NewDatabase opens a postgres database and prepares the relay tables.
func NewDatabase(db *sql.DB, writer sqlutil.Writer) (*shared.Database, error) {
	documents, err := NewPostgresDocumentsTable(db)
	if err != nil {
		return nil, err
	}
	shares, err := NewPostgresSharesTable(db)
	if err != nil {
		return nil, err
	}
	shareLinks, err := NewPostgresShareLinksTable(db)
	if err != nil {
		return nil, err
	}
	versions, err := NewPostgresVersionsTable(db)
	if err != nil {
		return nil, err
	}
	return &shared.Database{
		DB:         db,
		Writer:     writer,
		Documents:  documents,
		Shares:     shares,
		ShareLinks: shareLinks,
		Versions:   versions,
	}, nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
