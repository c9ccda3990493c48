// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

package sqlite3

import (
	"context"
	"database/sql"

	"github.com/notewire/relay/collabapi/types"
	"github.com/notewire/relay/internal/sqlutil"
)

const versionsSchema = `
CREATE TABLE IF NOT EXISTS document_versions (
    version_id TEXT NOT NULL PRIMARY KEY,
    document_id TEXT NOT NULL,
    author_id TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    snapshot BLOB NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS document_versions_document_id_created_at_idx
    ON document_versions(document_id, created_at DESC);
`

const selectLatestVersionSQL = "" +
	"SELECT version_id, author_id, summary, snapshot, created_at FROM document_versions" +
	" WHERE document_id = $1 ORDER BY created_at DESC, version_id DESC LIMIT 1"

const insertVersionSQL = "" +
	"INSERT INTO document_versions (version_id, document_id, author_id, summary, snapshot, created_at)" +
	" VALUES ($1, $2, $3, $4, $5, $6)"

type versionsStatements struct {
	db                      *sql.DB
	selectLatestVersionStmt *sql.Stmt
	insertVersionStmt       *sql.Stmt
}

func NewSqliteVersionsTable(db *sql.DB) (*versionsStatements, error) {
	s := &versionsStatements{db: db}
	if _, err := db.Exec(versionsSchema); err != nil {
		return nil, err
	}
	return s, sqlutil.StatementList{
		{&s.selectLatestVersionStmt, selectLatestVersionSQL},
		{&s.insertVersionStmt, insertVersionSQL},
	}.Prepare(db)
}

func (s *versionsStatements) SelectLatestVersion(
	ctx context.Context, txn *sql.Tx, documentID string,
) (*types.Version, error) {
	var v types.Version
	var createdMS int64
	stmt := sqlutil.TxStmt(txn, s.selectLatestVersionStmt)
	err := stmt.QueryRowContext(ctx, documentID).Scan(&v.ID, &v.AuthorID, &v.Summary, &v.Snapshot, &createdMS)
	if err != nil {
		return nil, err
	}
	v.DocumentID = documentID
	v.CreatedAt = fromMillis(createdMS)
	return &v, nil
}

func (s *versionsStatements) InsertVersion(
	ctx context.Context, txn *sql.Tx, version *types.Version,
) error {
	stmt := sqlutil.TxStmt(txn, s.insertVersionStmt)
	_, err := stmt.ExecContext(ctx,
		version.ID, version.DocumentID, version.AuthorID,
		version.Summary, version.Snapshot, version.CreatedAt.UnixMilli(),
	)
	return err
}
