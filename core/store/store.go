// Package store provides transactional persistence for the dispatch engine.
//
// Entities are stored as JSON documents in tables declared by Schema. Each
// table exposes a few indexed key columns used for lookups and uniqueness.
// Backends implement Session; Store wraps a backend with retry and
// after-commit hooks, and Tx exposes typed accessors on top of a Session.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilianp07/orderdispatch/core/model"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a unique key.
	ErrConflict = errors.New("unique constraint violated")
)

// Keys holds the indexed columns written alongside a document.
type Keys map[string]string

// Session is one open transaction on a backend. Reads observe the writes
// performed earlier in the same session.
type Session interface {
	Get(ctx context.Context, table, id string) ([]byte, error)
	Put(ctx context.Context, table, id string, keys Keys, doc []byte) error
	Delete(ctx context.Context, table, id string) error
	Find(ctx context.Context, table, column, value string) ([][]byte, error)
	All(ctx context.Context, table string) ([][]byte, error)
	NextSequence(ctx context.Context, name string) (int64, error)
	AppendLedger(ctx context.Context, e model.LedgerEntry) error
	Ledger(ctx context.Context, orderID, productID string) ([]model.LedgerEntry, error)
	Commit() error
	Rollback() error
}

// Backend opens sessions.
type Backend interface {
	Begin(ctx context.Context) (Session, error)
	Close() error
}

// RetryClassifier is implemented by backends whose transactions can fail
// with transient serialization conflicts.
type RetryClassifier interface {
	Retryable(err error) bool
}

// Store runs functions inside backend transactions.
type Store struct {
	backend    Backend
	maxRetries int
}

// New wraps backend. maxRetries bounds the number of re-executions after a
// retryable serialization failure.
func New(backend Backend, maxRetries int) *Store {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Store{backend: backend, maxRetries: maxRetries}
}

// WithTx executes fn in a transaction. The transaction commits when fn
// returns nil and rolls back otherwise. After-commit hooks registered on the
// Tx run once the commit succeeded.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := s.run(ctx, fn)
		if err == nil || attempt >= s.maxRetries {
			return err
		}
		rc, ok := s.backend.(RetryClassifier)
		if !ok || !rc.Retryable(err) {
			return err
		}
	}
}

func (s *Store) run(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	sess, err := s.backend.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	tx := &Tx{s: sess}
	if err := fn(ctx, tx); err != nil {
		if rerr := sess.Rollback(); rerr != nil {
			return fmt.Errorf("rollback: %v (cause: %w)", rerr, err)
		}
		return err
	}
	if err := sess.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	for _, hook := range tx.hooks {
		hook()
	}
	return nil
}

// Close closes the backend.
func (s *Store) Close() error { return s.backend.Close() }
