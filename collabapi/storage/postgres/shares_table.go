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

const sharesSchema = `
CREATE TABLE IF NOT EXISTS document_shares (
    document_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    -- owner, editor or viewer
    permission TEXT NOT NULL,
    PRIMARY KEY (document_id, user_id)
);
`

const selectShareSQL = "" +
	"SELECT permission FROM document_shares WHERE document_id = $1 AND user_id = $2"

type sharesStatements struct {
	db              *sql.DB
	selectShareStmt *sql.Stmt
}

func NewPostgresSharesTable(db *sql.DB) (*sharesStatements, error) {
	s := &sharesStatements{db: db}
	if _, err := db.Exec(sharesSchema); err != nil {
		return nil, err
	}
	return s, sqlutil.StatementList{
		{&s.selectShareStmt, selectShareSQL},
	}.Prepare(db)
}

func (s *sharesStatements) SelectShare(
	ctx context.Context, txn *sql.Tx, documentID, userID string,
) (*types.Share, error) {
	var permission string
	stmt := sqlutil.TxStmt(txn, s.selectShareStmt)
	err := stmt.QueryRowContext(ctx, documentID, userID).Scan(&permission)
	if err != nil {
		return nil, err
	}
	return &types.Share{
		DocumentID: documentID,
		UserID:     userID,
		Permission: types.Permission(permission),
	}, nil
}
