// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

package postgres

import (
	"context"
	"database/sql"

	"github.com/notewire/relay/collabapi/types"
	"github.com/notewire/relay/internal/sqlutil"
)

const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
    -- Opaque document id, assigned by the authoring service
    document_id TEXT NOT NULL PRIMARY KEY,
    owner_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    -- Timestamps (ms since epoch)
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);
`

const selectDocumentSQL = "" +
	"SELECT owner_id, title, created_at, updated_at FROM documents WHERE document_id = $1"

type documentsStatements struct {
	db                 *sql.DB
	selectDocumentStmt *sql.Stmt
}

func NewPostgresDocumentsTable(db *sql.DB) (*documentsStatements, error) {
	s := &documentsStatements{db: db}
	if _, err := db.Exec(documentsSchema); err != nil {
		return nil, err
	}
	return s, sqlutil.StatementList{
		{&s.selectDocumentStmt, selectDocumentSQL},
	}.Prepare(db)
}

func (s *documentsStatements) SelectDocument(
	ctx context.Context, txn *sql.Tx, documentID string,
) (*types.Document, error) {
	var doc types.Document
	var createdMS, updatedMS int64
	stmt := sqlutil.TxStmt(txn, s.selectDocumentStmt)
	err := stmt.QueryRowContext(ctx, documentID).Scan(&doc.OwnerID, &doc.Title, &createdMS, &updatedMS)
	if err != nil {
		return nil, err
	}
	doc.ID = documentID
	doc.CreatedAt = fromMillis(createdMS)
	doc.UpdatedAt = fromMillis(updatedMS)
	return &doc, nil
}
