// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

package sqlutil

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ConnectionString is a database connection URI. The scheme selects the
// driver: postgres:// and postgresql:// use lib/pq, file: uses SQLite.
type ConnectionString string

// IsSQLite returns true if the connection string refers to a SQLite file.
func (s ConnectionString) IsSQLite() bool {
	return strings.HasPrefix(string(s), "file:")
}

// IsPostgres returns true if the connection string refers to Postgres.
func (s ConnectionString) IsPostgres() bool {
	return strings.HasPrefix(string(s), "postgres://") ||
		strings.HasPrefix(string(s), "postgresql://")
}

// Open opens a database connection and returns it together with the Writer
// appropriate for the backend.
func Open(uri ConnectionString) (*sql.DB, Writer, error) {
	switch {
	case uri.IsPostgres():
		db, err := sql.Open("postgres", string(uri))
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, NewDummyWriter(), nil
	case uri.IsSQLite():
		db, err := sql.Open("sqlite3", strings.TrimPrefix(string(uri), "file:"))
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite3: %w", err)
		}
		// SQLite is single-writer; more connections just produce
		// "database is locked" errors.
		db.SetMaxOpenConns(1)
		return db, NewExclusiveWriter(), nil
	default:
		return nil, nil, fmt.Errorf("unrecognised database connection string %q", uri)
	}
}
