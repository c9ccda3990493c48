// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

package sqlutil

import (
	"database/sql"
	"fmt"
	"runtime"
	"strings"
)

// A StatementList is a list of SQL statements to prepare and a pointer to
// where to store the resulting prepared statement.
type StatementList []struct {
	Statement **sql.Stmt
	SQL       string
}

// Prepare the SQL for each statement in the list and assign the result to
// the prepared statement.
func (s StatementList) Prepare(db *sql.DB) (err error) {
	for _, statement := range s {
		if *statement.Statement, err = db.Prepare(statement.SQL); err != nil {
			return fmt.Errorf("prepare %q: %w", summarize(statement.SQL), err)
		}
	}
	return
}

func summarize(sql string) string {
	sql = strings.Join(strings.Fields(sql), " ")
	if len(sql) > 40 {
		return sql[:40] + "…"
	}
	return sql
}

// TxStmt wraps an SQL stmt inside an optional transaction.
func TxStmt(transaction *sql.Tx, statement *sql.Stmt) *sql.Stmt {
	if transaction != nil {
		statement = transaction.Stmt(statement)
	}
	return statement
}

// EndTransaction ends a transaction. If the transaction succeeded then it is
// committed, otherwise it is rolled back.
func EndTransaction(txn *sql.Tx, succeeded *bool) error {
	if *succeeded {
		return txn.Commit()
	}
	return txn.Rollback()
}

// WithTransaction runs a block of code passing in an SQL transaction. If the
// code returns an error or panics then the transaction is rolled back.
// Otherwise the transaction is committed.
func WithTransaction(db *sql.DB, fn func(txn *sql.Tx) error) (err error) {
	txn, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	succeeded := false
	defer func() {
		txerr := EndTransaction(txn, &succeeded)
		if err == nil && txerr != nil {
			err = txerr
		}
	}()
	if err = fn(txn); err != nil {
		return
	}
	succeeded = true
	return
}

// Writer provides a mechanism to ensure that database writes happen in a
// controlled fashion. SQLite does not like concurrent writes from multiple
// connections, so the ExclusiveWriter serializes them onto one goroutine;
// Postgres handles its own concurrency and gets the DummyWriter.
type Writer interface {
	// Do queues a database write. If the db parameter is non-nil and the
	// txn parameter is nil, the task is wrapped in a transaction.
	Do(db *sql.DB, txn *sql.Tx, f func(txn *sql.Tx) error) error
}

// DummyWriter executes the work immediately on the calling goroutine.
type DummyWriter struct{}

// NewDummyWriter returns a Writer for databases that tolerate concurrent
// writers.
func NewDummyWriter() Writer {
	return &DummyWriter{}
}

func (w *DummyWriter) Do(db *sql.DB, txn *sql.Tx, f func(txn *sql.Tx) error) error {
	if db != nil && txn == nil {
		return WithTransaction(db, f)
	}
	return f(txn)
}

// ExclusiveWriter funnels all writes through a single goroutine.
type ExclusiveWriter struct {
	todo chan transactionWriterTask
}

type transactionWriterTask struct {
	db   *sql.DB
	txn  *sql.Tx
	f    func(txn *sql.Tx) error
	wait chan error
}

// NewExclusiveWriter returns a Writer suitable for SQLite.
func NewExclusiveWriter() Writer {
	w := &ExclusiveWriter{
		todo: make(chan transactionWriterTask),
	}
	go w.run()
	return w
}

func (w *ExclusiveWriter) Do(db *sql.DB, txn *sql.Tx, f func(txn *sql.Tx) error) error {
	task := transactionWriterTask{
		db:   db,
		txn:  txn,
		f:    f,
		wait: make(chan error, 1),
	}
	w.todo <- task
	return <-task.wait
}

func (w *ExclusiveWriter) run() {
	// The writer lives for the lifetime of the process.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for task := range w.todo {
		if task.db != nil && task.txn != nil {
			task.wait <- task.f(task.txn)
		} else if task.db != nil && task.txn == nil {
			task.wait <- WithTransaction(task.db, task.f)
		} else {
			task.wait <- task.f(nil)
		}
	}
}
