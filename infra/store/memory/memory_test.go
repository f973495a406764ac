package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/orderdispatch/core/model"
	"github.com/kilianp07/orderdispatch/core/store"
)

func TestCommitPublishesWrites(t *testing.T) {
	ctx := context.Background()
	st := store.New(New(), 0)
	err := st.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		return tx.SaveOrder(ctx, &model.Order{ID: "o1", Reference: "SO00001"})
	})
	require.NoError(t, err)

	err = st.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		o, err := tx.Order(ctx, "o1")
		if err != nil {
			return err
		}
		assert.Equal(t, "SO00001", o.Reference)
		return nil
	})
	require.NoError(t, err)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	st := store.New(New(), 0)
	boom := errors.New("boom")
	err := st.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		if err := tx.SaveOrder(ctx, &model.Order{ID: "o1"}); err != nil {
			return err
		}
		if _, err := tx.NextSequence(ctx, "sale.order"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = st.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		_, err := tx.Order(ctx, "o1")
		assert.ErrorIs(t, err, store.ErrNotFound)
		n, err := tx.NextSequence(ctx, "sale.order")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return nil
	})
	require.NoError(t, err)
}

func TestUniqueKeyConflict(t *testing.T) {
	ctx := context.Background()
	st := store.New(New(), 0)
	err := st.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		if err := tx.SaveHeader(ctx, &model.DispatchHeader{ID: "h1", OrderID: "o1"}); err != nil {
			return err
		}
		// rewriting the same row is not a conflict
		if err := tx.SaveHeader(ctx, &model.DispatchHeader{ID: "h1", OrderID: "o1", Reference: "DSP00001"}); err != nil {
			return err
		}
		return tx.SaveHeader(ctx, &model.DispatchHeader{ID: "h2", OrderID: "o1"})
	})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestFindByKey(t *testing.T) {
	ctx := context.Background()
	st := store.New(New(), 0)
	err := st.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		now := time.Now()
		for i, id := range []string{"l1", "l2", "l3"} {
			hdr := "h1"
			if id == "l3" {
				hdr = "h2"
			}
			l := &model.DispatchLine{ID: id, HeaderID: hdr, CreatedAt: now.Add(time.Duration(i) * time.Second)}
			if err := tx.SaveDispatchLine(ctx, l); err != nil {
				return err
			}
		}
		lines, err := tx.LinesOfHeader(ctx, "h1")
		require.NoError(t, err)
		require.Len(t, lines, 2)
		assert.Equal(t, "l1", lines[0].ID)
		assert.Equal(t, "l2", lines[1].ID)
		return nil
	})
	require.NoError(t, err)
}

func TestLedgerFilters(t *testing.T) {
	ctx := context.Background()
	st := store.New(New(), 0)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	err := st.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		entries := []model.LedgerEntry{
			{ID: "e1", OrderID: "o1", ProductID: "p1", Debit: decimal.NewFromInt(3), CreatedAt: base},
			{ID: "e2", OrderID: "o1", ProductID: "p2", Debit: decimal.NewFromInt(1), CreatedAt: base.Add(time.Second)},
			{ID: "e3", OrderID: "o2", ProductID: "p1", Debit: decimal.NewFromInt(1), CreatedAt: base.Add(2 * time.Second)},
		}
		for _, e := range entries {
			if err := tx.AppendLedger(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = st.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		got, err := tx.Ledger(ctx, "o1", "p1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "e1", got[0].ID)

		got, err = tx.Ledger(ctx, "o1", "")
		require.NoError(t, err)
		assert.Len(t, got, 2)
		return nil
	})
	require.NoError(t, err)
}

func TestNegativeLedgerRejected(t *testing.T) {
	ctx := context.Background()
	st := store.New(New(), 0)
	err := st.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		return tx.AppendLedger(ctx, model.LedgerEntry{ID: "e1", Debit: decimal.NewFromInt(-1)})
	})
	assert.Error(t, err)
}

func TestBeginHonoursContext(t *testing.T) {
	b := New()
	sess, err := b.Begin(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = b.Begin(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, sess.Rollback())
	sess, err = b.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, sess.Commit())
	assert.Error(t, sess.Commit())
}
