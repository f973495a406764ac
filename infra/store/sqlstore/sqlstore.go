// Package sqlstore implements the store backend on top of database/sql
// through sqlx. SQLite (modernc.org/sqlite) and PostgreSQL (pgx) are
// supported; documents are kept as JSON text next to their key columns.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/kilianp07/orderdispatch/core/model"
	"github.com/kilianp07/orderdispatch/core/store"
)

// Config selects the driver and data source.
type Config struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// Backend is a SQL store backend.
type Backend struct {
	db      *sqlx.DB
	dialect dialect
}

var (
	_ store.Backend         = (*Backend)(nil)
	_ store.RetryClassifier = (*Backend)(nil)
)

// Open connects to the database described by cfg and creates the schema.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(d.driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.driver, err)
	}
	if d.driver == "sqlite" {
		// SQLite allows a single writer; one connection serializes transactions.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}
	b := &Backend{db: db, dialect: d}
	if err := b.migrate(ctx); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return b, nil
}

func (b *Backend) migrate(ctx context.Context) error {
	for _, stmt := range b.dialect.ddl() {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}

// Begin opens a transaction. PostgreSQL transactions run serializable.
func (b *Backend) Begin(ctx context.Context) (store.Session, error) {
	opts := &sql.TxOptions{}
	if b.dialect.driver == "pgx" {
		opts.Isolation = sql.LevelSerializable
	}
	tx, err := b.db.BeginTxx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &session{tx: tx}, nil
}

// Close closes the database.
func (b *Backend) Close() error { return b.db.Close() }

// Retryable reports serialization failures and deadlocks.
func (b *Backend) Retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return strings.Contains(err.Error(), "database is locked")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

type session struct {
	tx *sqlx.Tx
}

func (s *session) Get(ctx context.Context, table, id string) ([]byte, error) {
	var doc string
	err := s.tx.GetContext(ctx, &doc, s.tx.Rebind(fmt.Sprintf("SELECT doc FROM %s WHERE id = ?", table)), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(doc), nil
}

func (s *session) Put(ctx context.Context, table, id string, keys store.Keys, doc []byte) error {
	decl, ok := store.Lookup(table)
	if !ok {
		return fmt.Errorf("sqlstore: unknown table %s", table)
	}
	cols := []string{"id", "doc"}
	args := []any{id, string(doc)}
	updates := []string{"doc = excluded.doc"}
	for _, k := range decl.Keys {
		cols = append(cols, k)
		args = append(args, nullable(keys[k]))
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", k, k))
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
		table, strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "), strings.Join(updates, ", "))
	if _, err := s.tx.ExecContext(ctx, s.tx.Rebind(q), args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s %s: %w", table, id, store.ErrConflict)
		}
		return fmt.Errorf("put %s %s: %w", table, id, err)
	}
	return nil
}

func (s *session) Delete(ctx context.Context, table, id string) error {
	res, err := s.tx.ExecContext(ctx, s.tx.Rebind(fmt.Sprintf("DELETE FROM %s WHERE id = ?", table)), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *session) docs(ctx context.Context, query string, args ...any) ([][]byte, error) {
	var rows []string
	if err := s.tx.SelectContext(ctx, &rows, s.tx.Rebind(query), args...); err != nil {
		return nil, err
	}
	out := make([][]byte, len(rows))
	for i, r := range rows {
		out[i] = []byte(r)
	}
	return out, nil
}

func (s *session) Find(ctx context.Context, table, column, value string) ([][]byte, error) {
	decl, ok := store.Lookup(table)
	if !ok || !decl.HasKey(column) {
		return nil, fmt.Errorf("sqlstore: %s has no key %s", table, column)
	}
	if value == "" {
		return s.docs(ctx, fmt.Sprintf("SELECT doc FROM %s WHERE %s IS NULL ORDER BY seq", table, column))
	}
	return s.docs(ctx, fmt.Sprintf("SELECT doc FROM %s WHERE %s = ? ORDER BY seq", table, column), value)
}

func (s *session) All(ctx context.Context, table string) ([][]byte, error) {
	if _, ok := store.Lookup(table); !ok {
		return nil, fmt.Errorf("sqlstore: unknown table %s", table)
	}
	return s.docs(ctx, fmt.Sprintf("SELECT doc FROM %s ORDER BY seq", table))
}

func (s *session) NextSequence(ctx context.Context, name string) (int64, error) {
	var v int64
	err := s.tx.GetContext(ctx, &v, s.tx.Rebind(
		`INSERT INTO sequences (name, value) VALUES (?, 1)
		 ON CONFLICT (name) DO UPDATE SET value = sequences.value + 1
		 RETURNING value`), name)
	if err != nil {
		return 0, fmt.Errorf("sequence %s: %w", name, err)
	}
	return v, nil
}

type ledgerRow struct {
	ID             string          `db:"id"`
	OrderID        string          `db:"order_id"`
	ProductID      string          `db:"product_id"`
	DispatchLineID sql.NullString  `db:"dispatch_line_id"`
	Debit          decimal.Decimal `db:"debit"`
	Credit         decimal.Decimal `db:"credit"`
	RunningBalance decimal.Decimal `db:"running_balance"`
	Description    sql.NullString  `db:"description"`
	CreatedAt      int64           `db:"created_at"`
	CompanyID      sql.NullString  `db:"company_id"`
}

func (r ledgerRow) entry() model.LedgerEntry {
	return model.LedgerEntry{
		ID:             r.ID,
		OrderID:        r.OrderID,
		ProductID:      r.ProductID,
		DispatchLineID: r.DispatchLineID.String,
		Debit:          r.Debit,
		Credit:         r.Credit,
		RunningBalance: r.RunningBalance,
		Description:    r.Description.String,
		CreatedAt:      time.Unix(0, r.CreatedAt).UTC(),
		CompanyID:      r.CompanyID.String,
	}
}

func (s *session) AppendLedger(ctx context.Context, e model.LedgerEntry) error {
	if e.Debit.IsNegative() || e.Credit.IsNegative() {
		return fmt.Errorf("ledger entry %s: negative debit or credit", e.ID)
	}
	_, err := s.tx.ExecContext(ctx, s.tx.Rebind(
		`INSERT INTO ledger (id, order_id, product_id, dispatch_line_id, debit, credit, running_balance, description, created_at, company_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.OrderID, e.ProductID, nullable(e.DispatchLineID),
		e.Debit.String(), e.Credit.String(), e.RunningBalance.String(),
		nullable(e.Description), e.CreatedAt.UnixNano(), nullable(e.CompanyID))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("ledger entry %s: %w", e.ID, store.ErrConflict)
		}
		return fmt.Errorf("append ledger: %w", err)
	}
	return nil
}

func (s *session) Ledger(ctx context.Context, orderID, productID string) ([]model.LedgerEntry, error) {
	q := `SELECT id, order_id, product_id, dispatch_line_id, debit, credit, running_balance, description, created_at, company_id
		  FROM ledger WHERE order_id = ?`
	args := []any{orderID}
	if productID != "" {
		q += ` AND product_id = ?`
		args = append(args, productID)
	}
	q += ` ORDER BY created_at, seq`
	var rows []ledgerRow
	if err := s.tx.SelectContext(ctx, &rows, s.tx.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	out := make([]model.LedgerEntry, len(rows))
	for i, r := range rows {
		out[i] = r.entry()
	}
	return out, nil
}

func (s *session) Commit() error   { return s.tx.Commit() }
func (s *session) Rollback() error { return s.tx.Rollback() }
