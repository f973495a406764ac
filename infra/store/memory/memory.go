// Package memory implements an in-process store backend. Transactions are
// serialized: a session holds the store exclusively from Begin until Commit
// or Rollback and works on a private copy of the data.
package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/kilianp07/orderdispatch/core/model"
	"github.com/kilianp07/orderdispatch/core/store"
)

type row struct {
	seq  int64
	keys store.Keys
	doc  []byte
}

type state struct {
	tables    map[string]map[string]row
	sequences map[string]int64
	ledger    []model.LedgerEntry
	rowSeq    int64
}

func (s *state) clone() *state {
	c := &state{
		tables:    make(map[string]map[string]row, len(s.tables)),
		sequences: make(map[string]int64, len(s.sequences)),
		ledger:    append([]model.LedgerEntry(nil), s.ledger...),
		rowSeq:    s.rowSeq,
	}
	for name, rows := range s.tables {
		cp := make(map[string]row, len(rows))
		for id, r := range rows {
			cp[id] = r
		}
		c.tables[name] = cp
	}
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	return c
}

// Backend is the in-memory store backend.
type Backend struct {
	sem  chan struct{}
	data *state
}

var _ store.Backend = (*Backend)(nil)

// New returns an empty backend with every schema table created.
func New() *Backend {
	st := &state{tables: map[string]map[string]row{}, sequences: map[string]int64{}}
	for _, t := range store.Schema {
		st.tables[t.Name] = map[string]row{}
	}
	return &Backend{sem: make(chan struct{}, 1), data: st}
}

// Begin waits for exclusive access and opens a session.
func (b *Backend) Begin(ctx context.Context) (store.Session, error) {
	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &session{b: b, work: b.data.clone()}, nil
}

// Close is a no-op.
func (b *Backend) Close() error { return nil }

type session struct {
	b    *Backend
	work *state
	done bool
}

func (s *session) table(name string) (map[string]row, error) {
	if s.done {
		return nil, fmt.Errorf("memory: session finished")
	}
	t, ok := s.work.tables[name]
	if !ok {
		return nil, fmt.Errorf("memory: unknown table %s", name)
	}
	return t, nil
}

func (s *session) Get(_ context.Context, table, id string) ([]byte, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	r, ok := t[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r.doc, nil
}

func (s *session) Put(_ context.Context, table, id string, keys store.Keys, doc []byte) error {
	t, err := s.table(table)
	if err != nil {
		return err
	}
	decl, _ := store.Lookup(table)
	for _, col := range decl.Unique {
		v := keys[col]
		if v == "" {
			continue
		}
		for otherID, r := range t {
			if otherID != id && r.keys[col] == v {
				return fmt.Errorf("%s.%s=%s: %w", table, col, v, store.ErrConflict)
			}
		}
	}
	cp := make(store.Keys, len(keys))
	for k, v := range keys {
		cp[k] = v
	}
	seq := t[id].seq
	if seq == 0 {
		s.work.rowSeq++
		seq = s.work.rowSeq
	}
	t[id] = row{seq: seq, keys: cp, doc: append([]byte(nil), doc...)}
	return nil
}

func (s *session) Delete(_ context.Context, table, id string) error {
	t, err := s.table(table)
	if err != nil {
		return err
	}
	if _, ok := t[id]; !ok {
		return store.ErrNotFound
	}
	delete(t, id)
	return nil
}

func sorted(rows []row) [][]byte {
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([][]byte, len(rows))
	for i, r := range rows {
		out[i] = r.doc
	}
	return out
}

func (s *session) Find(_ context.Context, table, column, value string) ([][]byte, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	var rows []row
	for _, r := range t {
		if r.keys[column] == value {
			rows = append(rows, r)
		}
	}
	return sorted(rows), nil
}

func (s *session) All(_ context.Context, table string) ([][]byte, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	rows := make([]row, 0, len(t))
	for _, r := range t {
		rows = append(rows, r)
	}
	return sorted(rows), nil
}

func (s *session) NextSequence(_ context.Context, name string) (int64, error) {
	if s.done {
		return 0, fmt.Errorf("memory: session finished")
	}
	s.work.sequences[name]++
	return s.work.sequences[name], nil
}

func (s *session) AppendLedger(_ context.Context, e model.LedgerEntry) error {
	if s.done {
		return fmt.Errorf("memory: session finished")
	}
	if e.Debit.IsNegative() || e.Credit.IsNegative() {
		return fmt.Errorf("ledger entry %s: negative debit or credit", e.ID)
	}
	for _, prev := range s.work.ledger {
		if prev.ID == e.ID {
			return fmt.Errorf("ledger entry %s: %w", e.ID, store.ErrConflict)
		}
	}
	s.work.ledger = append(s.work.ledger, e)
	return nil
}

func (s *session) Ledger(_ context.Context, orderID, productID string) ([]model.LedgerEntry, error) {
	if s.done {
		return nil, fmt.Errorf("memory: session finished")
	}
	var out []model.LedgerEntry
	for _, e := range s.work.ledger {
		if e.OrderID != orderID {
			continue
		}
		if productID != "" && e.ProductID != productID {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *session) finish() error {
	if s.done {
		return fmt.Errorf("memory: session finished")
	}
	s.done = true
	<-s.b.sem
	return nil
}

func (s *session) Commit() error {
	if s.done {
		return fmt.Errorf("memory: session finished")
	}
	s.b.data = s.work
	return s.finish()
}

func (s *session) Rollback() error { return s.finish() }
