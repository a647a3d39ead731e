package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries runs typed statements against a connection or a transaction.
type Queries struct {
	db DBTX
}

// New wraps a connection or transaction.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a copy bound to tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// routed sends statements to the writer and queries to the read pool.
type routed struct {
	w, r *sql.DB
}

func (c routed) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.w.ExecContext(ctx, query, args...)
}

func (c routed) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.r.QueryContext(ctx, query, args...)
}

func (c routed) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.r.QueryRowContext(ctx, query, args...)
}

// Store owns the database handles and adds transaction helpers. Transactions
// always run on the writer.
type Store struct {
	*Queries
	db     *sql.DB
	reader *sql.DB
}

// NewStore creates a Store over an open writer and an optional read pool.
// A nil reader sends everything to the writer.
func NewStore(writer, reader *sql.DB) *Store {
	if reader == nil {
		reader = writer
	}
	return &Store{Queries: New(routed{w: writer, r: reader}), db: writer, reader: reader}
}

// GetDB returns the writer handle.
func (s *Store) GetDB() *sql.DB {
	return s.db
}

// Close closes both handles.
func (s *Store) Close() error {
	var rerr error
	if s.reader != s.db {
		rerr = s.reader.Close()
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	return rerr
}

// Tx is an explicit transaction for callers that must decide commit or
// rollback after doing work outside the database.
type Tx struct {
	*Queries
	tx   *sql.Tx
	done bool
}

// Begin starts an explicit transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap("begin tx", err)
	}
	return &Tx{Queries: New(tx), tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	return wrap("commit", t.tx.Commit())
}

// Rollback aborts the transaction. Calling it after Commit is a no-op.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return wrap("rollback", t.tx.Rollback())
}

// ExecTx runs fn inside a transaction, committing when it returns nil.
func (s *Store) ExecTx(ctx context.Context, fn func(*Queries) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx.Queries); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// ErrNotFound is returned when a row lookup matches nothing.
var ErrNotFound = errors.New("not found")

// PersistenceError wraps a relational-store failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "persistence: " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return &PersistenceError{Op: op, Err: err}
}

func now() int64 {
	return time.Now().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
