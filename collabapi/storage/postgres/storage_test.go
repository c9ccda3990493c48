// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notewire/relay/collabapi/storage/shared"
	"github.com/notewire/relay/internal/sqlutil"
)

func mockDatabase(t *testing.T) (*shared.Database, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS documents").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectPrepare("SELECT owner_id, title")
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS document_shares").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectPrepare("SELECT permission FROM document_shares")
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS document_share_links").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectPrepare("SELECT permission, expires_at FROM document_share_links")
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS document_versions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectPrepare("SELECT version_id, author_id")
	mock.ExpectPrepare("INSERT INTO document_versions")

	d, err := NewDatabase(db, sqlutil.NewDummyWriter())
	require.NoError(t, err)
	return d, mock
}

func TestNoRowsMapsToNil(t *testing.T) {
	d, mock := mockDatabase(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT owner_id, title").WithArgs("doc-1").WillReturnError(sql.ErrNoRows)
	doc, err := d.FindDocumentByID(ctx, "doc-1")
	assert.NoError(t, err)
	assert.Nil(t, doc)

	mock.ExpectQuery("SELECT version_id, author_id").WithArgs("doc-1").WillReturnError(sql.ErrNoRows)
	version, err := d.FindLatestVersion(ctx, "doc-1")
	assert.NoError(t, err)
	assert.Nil(t, version)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreErrorsPropagate(t *testing.T) {
	d, mock := mockDatabase(t)
	ctx := context.Background()

	boom := errors.New("connection reset by peer")
	mock.ExpectQuery("SELECT owner_id, title").WithArgs("doc-1").WillReturnError(boom)
	_, err := d.FindDocumentByID(ctx, "doc-1")
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectLatestVersionScans(t *testing.T) {
	d, mock := mockDatabase(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"version_id", "author_id", "summary", "snapshot", "created_at"}).
		AddRow("v-1", "alice", "Auto-save", []byte("state"), int64(1700000000000))
	mock.ExpectQuery("SELECT version_id, author_id").WithArgs("doc-1").WillReturnRows(rows)

	version, err := d.FindLatestVersion(ctx, "doc-1")
	require.NoError(t, err)
	require.NotNil(t, version)
	assert.Equal(t, "v-1", version.ID)
	assert.Equal(t, "doc-1", version.DocumentID)
	assert.Equal(t, []byte("state"), version.Snapshot)
	assert.Equal(t, int64(1700000000000), version.CreatedAt.UnixMilli())

	assert.NoError(t, mock.ExpectationsWereMet())
}
