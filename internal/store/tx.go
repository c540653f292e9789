package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// TxOptions selects the isolation level of a unit of work.
type TxOptions struct {
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

var (
	// PullTx is used for one pull round: the snapshot it reads defines "current".
	PullTx = TxOptions{Isolation: sql.LevelRepeatableRead}

	// MutationTx is used for one mutation of a push batch.
	MutationTx = TxOptions{Isolation: sql.LevelSerializable}
)

// Tx is a transaction bound to one unit of work.
//
// Methods serialize on an internal mutex and drain their result sets before
// returning, so goroutines of a single request may share one Tx.
type Tx struct {
	mu    sync.Mutex
	tx    *sql.Tx
	store *Store
}

// InTx runs fn inside a transaction. The transaction commits when fn returns
// nil and rolls back otherwise, so no partial state becomes visible.
func (s *Store) InTx(ctx context.Context, opts TxOptions, fn func(*Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, s.txOptions(opts))
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback() // No-op if committed

	tx := &Tx{tx: sqlTx, store: s}
	if err := fn(tx); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// txOptions translates TxOptions for the dialect. SQLite transactions are
// always serializable and the driver ignores isolation levels.
func (s *Store) txOptions(opts TxOptions) *sql.TxOptions {
	if s.dialect == DialectSQLite {
		return nil
	}
	return &sql.TxOptions{Isolation: opts.Isolation, ReadOnly: opts.ReadOnly}
}

func (t *Tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tx.ExecContext(ctx, t.store.rebind(query), args...)
}

func (t *Tx) queryRow(ctx context.Context, dest []any, query string, args ...any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tx.QueryRowContext(ctx, t.store.rebind(query), args...).Scan(dest...)
}

// query runs a query and hands every row to scan while holding the lock.
func (t *Tx) query(ctx context.Context, scan func(*sql.Rows) error, query string, args ...any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows, err := t.tx.QueryContext(ctx, t.store.rebind(query), args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
