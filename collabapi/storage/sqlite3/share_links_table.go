// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

package sqlite3

import (
	"context"
	"database/sql"
	"time"

	"github.com/notewire/relay/collabapi/types"
	"github.com/notewire/relay/internal/sqlutil"
)

const shareLinksSchema = `
CREATE TABLE IF NOT EXISTS document_share_links (
    document_id TEXT NOT NULL,
    token TEXT NOT NULL,
    permission TEXT NOT NULL,
    -- NULL means the link never expires (ms since epoch otherwise)
    expires_at INTEGER,
    PRIMARY KEY (document_id, token)
);
`

const selectValidShareLinkSQL = "" +
	"SELECT permission, expires_at FROM document_share_links" +
	" WHERE document_id = $1 AND token = $2 AND (expires_at IS NULL OR expires_at > $3)"

type shareLinksStatements struct {
	db                       *sql.DB
	selectValidShareLinkStmt *sql.Stmt
}

func NewSqliteShareLinksTable(db *sql.DB) (*shareLinksStatements, error) {
	s := &shareLinksStatements{db: db}
	if _, err := db.Exec(shareLinksSchema); err != nil {
		return nil, err
	}
	return s, sqlutil.StatementList{
		{&s.selectValidShareLinkStmt, selectValidShareLinkSQL},
	}.Prepare(db)
}

func (s *shareLinksStatements) SelectValidShareLink(
	ctx context.Context, txn *sql.Tx, documentID, token string, now time.Time,
) (*types.ShareLink, error) {
	var permission string
	var expiresMS sql.NullInt64
	stmt := sqlutil.TxStmt(txn, s.selectValidShareLinkStmt)
	err := stmt.QueryRowContext(ctx, documentID, token, now.UnixMilli()).Scan(&permission, &expiresMS)
	if err != nil {
		return nil, err
	}
	link := &types.ShareLink{
		DocumentID: documentID,
		Token:      token,
		Permission: types.Permission(permission),
	}
	if expiresMS.Valid {
		t := fromMillis(expiresMS.Int64)
		link.ExpiresAt = &t
	}
	return link, nil
}
