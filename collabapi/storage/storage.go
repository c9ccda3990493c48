// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

package storage

import (
	"fmt"

	"github.com/notewire/relay/collabapi/storage/postgres"
	"github.com/notewire/relay/collabapi/storage/sqlite3"
	"github.com/notewire/relay/internal/sqlutil"
)

// NewDatabase opens the durable store named by the connection string,
// choosing the backend from its scheme.
func NewDatabase(uri sqlutil.ConnectionString) (Database, error) {
	db, writer, err := sqlutil.Open(uri)
	if err != nil {
		return nil, err
	}
	switch {
	case uri.IsPostgres():
		return postgres.NewDatabase(db, writer)
	case uri.IsSQLite():
		return sqlite3.NewDatabase(db, writer)
	default:
		return nil, fmt.Errorf("unexpected database connection string %q", uri)
	}
}
